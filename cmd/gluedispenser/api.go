package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/gisilves/ams-glue-dispenser-GUI/coord"
	"github.com/gisilves/ams-glue-dispenser-GUI/dispense"
	"github.com/gisilves/ams-glue-dispenser-GUI/gcode"
)

type api struct {
	http.Handler
	eng     *dispense.Engine
	cmd     *dispense.Commander
	bus     *eventBus
	fs      http.Handler
	dataDir string
	port    string
	jogFeed float64
	dwell   time.Duration

	mx   sync.Mutex
	prog *gcode.Program
	name string
	sess *dispense.Session
}

func newAPI(eng *dispense.Engine, cmd *dispense.Commander, bus *eventBus, met *metrics, config Configuration, port string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		eng:     eng,
		cmd:     cmd,
		bus:     bus,
		fs:      http.FileServer(http.Dir(config.Server.DataDir)),
		dataDir: config.Server.DataDir,
		port:    port,
		jogFeed: config.Engine.JogFeed,
		dwell:   time.Duration(config.Engine.DwellMS) * time.Millisecond,
	}

	r.HandleFunc("/api/program", a.getProgram).Methods("GET")
	r.HandleFunc("/api/program", a.loadProgram).Methods("POST")
	r.HandleFunc("/api/send", a.send).Methods("POST")
	r.HandleFunc("/api/pause", a.pause).Methods("POST")
	r.HandleFunc("/api/resume", a.resume).Methods("POST")
	r.HandleFunc("/api/stop", a.stop).Methods("POST")
	r.HandleFunc("/api/confirm", a.confirm).Methods("POST")
	r.HandleFunc("/api/command/{name}", a.command).Methods("POST")
	r.HandleFunc("/api/state", a.state).Methods("GET")

	r.PathPrefix("/events/").Handler(bus.sse)
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		serveWS(bus.hub, w, req)
	})
	r.Handle("/metrics", met.handler())
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(a.dataFile)))

	return a
}

type programSummary struct {
	Name           string       `json:"name"`
	Points         int          `json:"points"`
	InitLines      int          `json:"init_lines"`
	MaxTravel      float64      `json:"max_travel"`
	TravelExceeded bool         `json:"travel_exceeded"`
	Min            *coord.Point `json:"min,omitempty"`
	Max            *coord.Point `json:"max,omitempty"`
}

type pointDetail struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Move  string  `json:"move"`
	Lines int     `json:"lines"`
}

type programDetail struct {
	programSummary
	Path  []coord.Point `json:"path"`
	Moves []pointDetail `json:"moves"`
}

type stateResponse struct {
	Running         bool            `json:"running"`
	Paused          bool            `json:"paused"`
	AwaitingConfirm bool            `json:"awaiting_confirm"`
	Status          string          `json:"status"`
	Position        coord.Point     `json:"position"`
	Port            string          `json:"port"`
	LastError       string          `json:"last_error,omitempty"`
	Program         *programSummary `json:"program,omitempty"`
}

func summarize(prog *gcode.Program, name string) programSummary {
	s := programSummary{
		Name:           name,
		Points:         len(prog.Points),
		InitLines:      len(prog.Init),
		MaxTravel:      prog.MaxTravel,
		TravelExceeded: prog.ExceedsTravel(),
	}
	if len(prog.Path) > 1 {
		min, max := prog.Bounds()
		s.Min, s.Max = &min, &max
	}
	return s
}

func (a *api) program() *gcode.Program {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.prog
}

func (a *api) session() *dispense.Session {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.sess
}

func (a *api) loadProgram(w http.ResponseWriter, req *http.Request) {
	if a.eng.Running() {
		http.Error(w, "cannot load a program while transmitting", http.StatusConflict)
		return
	}

	var src io.Reader = req.Body
	name := req.URL.Query().Get("file")
	if name != "" {
		ok, full := safePath(a.dataDir, name)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f, err := os.Open(full)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			log.Printf("ERROR: open '%s': %+v", full, err)
			http.Error(w, err.Error(), 500)
			return
		}
		defer f.Close()
		src = f
	} else {
		name = "upload"
	}

	prog, err := gcode.Parse(src)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	a.prog = prog
	a.name = name
	a.mx.Unlock()

	if prog.ExceedsTravel() {
		log.Printf("program '%s' reaches the X soft limit (%s)", name, gcode.Num(prog.MaxTravel))
	}
	writeJSON(w, http.StatusOK, summarize(prog, name))
}

func (a *api) getProgram(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	prog, name := a.prog, a.name
	a.mx.Unlock()
	if prog == nil {
		http.Error(w, "no program loaded", http.StatusNotFound)
		return
	}

	detail := programDetail{
		programSummary: summarize(prog, name),
		Path:           prog.Path,
		Moves:          make([]pointDetail, 0, len(prog.Points)),
	}
	for i, pt := range prog.Points {
		detail.Moves = append(detail.Moves, pointDetail{
			Index: i,
			X:     pt.Pos.X,
			Y:     pt.Pos.Y,
			Move:  pt.MoveCommand(),
			Lines: len(pt.GlueLines),
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *api) send(w http.ResponseWriter, req *http.Request) {
	var body struct {
		First *int `json:"first"`
		Last  *int `json:"last"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	prog := a.prog
	a.mx.Unlock()
	if prog == nil || len(prog.Points) == 0 {
		http.Error(w, "no program loaded", http.StatusBadRequest)
		return
	}

	rng := dispense.Range{First: 0, Last: len(prog.Points) - 1}
	if body.First != nil {
		rng.First = *body.First
	}
	if body.Last != nil {
		rng.Last = *body.Last
	}
	if rng.First < 0 || rng.Last >= len(prog.Points) || rng.First > rng.Last {
		http.Error(w, fmt.Sprintf("invalid point range %d..%d of %d points", rng.First, rng.Last, len(prog.Points)), http.StatusBadRequest)
		return
	}
	if a.eng.Running() {
		http.Error(w, dispense.ErrAlreadyRunning.Error(), http.StatusConflict)
		return
	}

	sess := dispense.NewSession()
	a.mx.Lock()
	a.sess = sess
	a.mx.Unlock()

	go func() {
		if _, err := a.eng.Run(prog, rng, sess); err != nil {
			log.Printf("ERROR: run: %+v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]int{
		"first": rng.First,
		"last":  rng.Last,
	})
}

func (a *api) pause(w http.ResponseWriter, req *http.Request) {
	if sess := a.session(); sess != nil {
		sess.Pause()
	}
	a.state(w, req)
}

func (a *api) resume(w http.ResponseWriter, req *http.Request) {
	if sess := a.session(); sess != nil {
		sess.Resume()
	}
	a.state(w, req)
}

func (a *api) stop(w http.ResponseWriter, req *http.Request) {
	// a blocked checkpoint must be answered before the flags matter
	a.bus.Resolve(false)
	if sess := a.session(); sess != nil {
		sess.Stop()
	}
	a.state(w, req)
}

func (a *api) confirm(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Continue *bool `json:"continue"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && err != io.EOF {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	ok := true
	if body.Continue != nil {
		ok = *body.Continue
	}
	if !a.bus.Resolve(ok) {
		http.Error(w, "no checkpoint pending", http.StatusConflict)
		return
	}
	a.state(w, req)
}

func (a *api) command(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	var err error
	switch name {
	case "home":
		err = a.cmd.Home()
	case "unlock":
		err = a.cmd.Unlock()
	case "syringe-up":
		err = a.cmd.SyringeUp()
	case "syringe-down":
		err = a.cmd.SyringeDown()
	case "dispense":
		err = a.cmd.DispenseShot(a.dwell)
	case "origin":
		err = a.cmd.MoveToOrigin(a.program())
	case "far-end":
		err = a.cmd.MoveToFarEnd(a.program())
	case "jog":
		q := req.URL.Query()
		axis := q.Get("axis")
		if axis != "x" && axis != "X" && axis != "y" && axis != "Y" {
			http.Error(w, "invalid axis parameter", http.StatusBadRequest)
			return
		}
		dist, perr := strconv.ParseFloat(q.Get("dist"), 64)
		if perr != nil {
			http.Error(w, "invalid dist parameter", http.StatusBadRequest)
			return
		}
		feed := a.jogFeed
		if s := q.Get("feed"); s != "" {
			feed, perr = strconv.ParseFloat(s, 64)
			if perr != nil {
				http.Error(w, "invalid feed parameter", http.StatusBadRequest)
				return
			}
		}
		err = a.cmd.Jog(axis[0], dist, feed)
	case "feed":
		v, perr := strconv.ParseFloat(req.URL.Query().Get("value"), 64)
		if perr != nil {
			http.Error(w, "invalid value parameter", http.StatusBadRequest)
			return
		}
		err = a.cmd.SetFeed(v)
	default:
		http.Error(w, "unknown command '"+name+"'", http.StatusNotFound)
		return
	}

	switch {
	case err == nil:
		a.state(w, req)
	case errors.Is(err, dispense.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, dispense.ErrNoPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("ERROR: command %s: %+v", name, err)
		http.Error(w, err.Error(), 500)
	}
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	status, pos, awaiting, lastErr := a.bus.Snapshot()
	resp := stateResponse{
		Running:         a.eng.Running(),
		AwaitingConfirm: awaiting,
		Status:          status,
		Position:        pos,
		Port:            a.port,
		LastError:       lastErr,
	}
	if sess := a.session(); sess != nil {
		resp.Paused = sess.Paused()
	}
	a.mx.Lock()
	if a.prog != nil {
		s := summarize(a.prog, a.name)
		resp.Program = &s
	}
	a.mx.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) dataFile(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case "GET":
		a.fs.ServeHTTP(w, req)
	case "PUT":
		a.putFile(w, req)
	case "DELETE":
		a.deleteFile(w, req)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("ERROR: encode:", err)
	}
}

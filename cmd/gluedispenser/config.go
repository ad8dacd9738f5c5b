package main

type Configuration struct {
	Serial SerialSettings `ini:"serial"`
	Engine EngineSettings `ini:"engine"`
	Server ServerSettings `ini:"server"`
}

type SerialSettings struct {
	Port string `ini:"port"`
	Baud int    `ini:"baud"`
}

type EngineSettings struct {
	PollIntervalMS int     `ini:"poll_interval_ms"`
	AckTimeoutS    int     `ini:"ack_timeout_s"`
	DwellMS        int     `ini:"dwell_ms"`
	JogFeed        float64 `ini:"jog_feed"`
}

type ServerSettings struct {
	Addr    string `ini:"addr"`
	DataDir string `ini:"data_dir"`
}

func defaultConfiguration() Configuration {
	return Configuration{
		Serial: SerialSettings{
			Port: "/dev/ttyUSB0",
			Baud: 115200,
		},
		Engine: EngineSettings{
			PollIntervalMS: 100,
			AckTimeoutS:    30,
			DwellMS:        1000,
			JogFeed:        10000,
		},
		Server: ServerSettings{
			Addr:    ":9091",
			DataDir: "./data",
		},
	}
}

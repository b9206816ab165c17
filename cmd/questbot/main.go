package main

import (
	"fmt"
	"log"

	corecmd "github.com/m3rciful/questbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return LoadConfig(path)
		},
		Bootstrap: func(cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			appCfg, ok := cfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", cfg)
			}
			return NewApp(appCfg)
		},
	})
	if err != nil {
		log.Fatalf("questbot: %v", err)
	}
}

//go:build !tinygo

package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run in YAML. Steps use console syntax:
//
//	name: walk and wait
//	steps:
//	  - tick
//	  - move 120 0
//	  - tick 3
//	  - press 6s
//	expect:
//	  uplinks: 3
//	  counter: 1
type Scenario struct {
	Name   string   `yaml:"name"`
	Steps  []string `yaml:"steps"`
	Expect struct {
		Uplinks *int    `yaml:"uplinks"`
		Counter *uint32 `yaml:"counter"`
		Joined  *bool   `yaml:"joined"`
	} `yaml:"expect"`
}

func LoadScenario(path string) (Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	return ParseScenario(b)
}

func ParseScenario(b []byte) (Scenario, error) {
	var sc Scenario
	err := yaml.Unmarshal(b, &sc)
	return sc, err
}

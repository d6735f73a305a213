package toolchain

import (
	"path/filepath"
	"strings"
)

// Board describes a target board
type Board struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	FQBN        string `json:"fqbn" yaml:"fqbn"`
	Description string `json:"description" yaml:"description"`
}

// Core returns the platform part of the FQBN, e.g. "esp8266:esp8266"
func (b Board) Core() string {
	parts := strings.Split(b.FQBN, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + ":" + parts[1]
}

// IsESP8266 reports whether the board runs the ESP8266 core
func (b Board) IsESP8266() bool {
	return IsESP8266(b.FQBN)
}

// BaudRate returns the console speed for the board family
func (b Board) BaudRate() int {
	if b.IsESP8266() {
		return 115200
	}
	return 9600
}

// DefaultBoard is used when nothing else matches
var DefaultBoard = Board{Key: "uno", Name: "Arduino Uno", FQBN: "arduino:avr:uno", Description: "Arduino Uno R3 (ATmega328P)"}

var boards = []Board{
	DefaultBoard,
	{Key: "nano", Name: "Arduino Nano", FQBN: "arduino:avr:nano", Description: "Arduino Nano (ATmega328P)"},
	{Key: "mega", Name: "Arduino Mega", FQBN: "arduino:avr:mega", Description: "Arduino Mega 2560 (ATmega2560)"},
	{Key: "leonardo", Name: "Arduino Leonardo", FQBN: "arduino:avr:leonardo", Description: "Arduino Leonardo (ATmega32u4)"},
	{Key: "nodemcuv2", Name: "NodeMCU 1.0 (ESP-12E Module)", FQBN: "esp8266:esp8266:nodemcuv2", Description: "NodeMCU 1.0 (ESP-12E Module)"},
	{Key: "nodemcu", Name: "NodeMCU 0.9 (ESP-12 Module)", FQBN: "esp8266:esp8266:nodemcu", Description: "NodeMCU 0.9 (ESP-12 Module)"},
	{Key: "generic", Name: "Generic ESP8266 Module", FQBN: "esp8266:esp8266:generic", Description: "Generic ESP8266 Module"},
	{Key: "d1_mini", Name: "LOLIN(WEMOS) D1 R2 & mini", FQBN: "esp8266:esp8266:d1_mini", Description: "LOLIN(WEMOS) D1 R2 & mini"},
}

// Boards returns the known board table
func Boards() []Board {
	return append([]Board(nil), boards...)
}

// LookupBoard resolves a short name or FQBN. A full FQBN not in the table is
// passed through; anything else falls back to DefaultBoard.
func LookupBoard(name string) Board {
	name = strings.TrimSpace(name)
	for _, b := range boards {
		if strings.EqualFold(b.Key, name) || b.FQBN == name {
			return b
		}
	}
	if strings.Count(name, ":") >= 2 {
		parts := strings.Split(name, ":")
		return Board{Key: parts[len(parts)-1], Name: parts[len(parts)-1], FQBN: name, Description: "Board: " + name}
	}
	return DefaultBoard
}

// DetectBoard guesses the board from the sketch file name
func DetectBoard(sketchPath string) Board {
	name := strings.ToLower(filepath.Base(sketchPath))
	switch {
	case strings.Contains(name, "esp8266"):
		return LookupBoard("nodemcuv2")
	case strings.Contains(name, "esp32"):
		return LookupBoard("esp32:esp32:esp32dev")
	case strings.Contains(name, "nano"):
		return LookupBoard("nano")
	case strings.Contains(name, "mega"):
		return LookupBoard("mega")
	case strings.Contains(name, "leonardo"):
		return LookupBoard("leonardo")
	default:
		return DefaultBoard
	}
}

// IsESP8266 reports whether an FQBN targets the ESP8266 core
func IsESP8266(fqbn string) bool {
	return strings.Contains(fqbn, "esp8266")
}

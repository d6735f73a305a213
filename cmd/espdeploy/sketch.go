package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"espdeploy/internal/serial"
	"espdeploy/internal/toolchain"
)

var exampleOutput string

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Write an example ESP8266 web server sketch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := toolchain.WriteExample(exampleOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(theApp.out, "Created %s\n", file)
		fmt.Fprintf(theApp.out, "Set WIFI_SSID and WIFI_PASSWORD, then run: espdeploy deploy %s\n", file)
		return nil
	},
}

var provisionHandlerCmd = &cobra.Command{
	Use:   "handler",
	Short: "Print the firmware upload handler the board needs for provisioning",
	Long: `Print the Arduino code that receives files sent by "espdeploy provision".
Add it to the sketch, call SPIFFS.begin() in setup() and handleSerialUpload()
in loop(). The handler also answers the acknowledgements used by
serial.handshake: ack.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprint(theApp.out, serial.UploadHandlerSketch())
		return err
	},
}

func init() {
	exampleCmd.Flags().StringVarP(&exampleOutput, "output", "o", "examples/esp8266_webserver.ino", "sketch file or directory to create")
	provisionCmd.AddCommand(provisionHandlerCmd)
}

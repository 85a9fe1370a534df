package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	chademo "github.com/samsamfire/gochademo"
	"github.com/samsamfire/gochademo/pkg/frames"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FRAME...",
	Short: "Decode frames in candump format e.g. 102#0290010000015000",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec := frames.NewCodec()
		failed := 0
		for _, arg := range args {
			line, err := decodeFrame(codec, arg)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%v : %v\n", arg, err)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if failed > 0 {
			return fmt.Errorf("%v frame(s) could not be decoded", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// Parse a frame in candump format ID#DATA
func parseFrame(text string) (chademo.Frame, error) {
	idText, dataText, ok := strings.Cut(strings.TrimSpace(text), "#")
	if !ok {
		return chademo.Frame{}, fmt.Errorf("%w : expecting ID#DATA got %v", chademo.ErrIllegalArgument, text)
	}
	id, err := strconv.ParseUint(idText, 16, 32)
	if err != nil {
		return chademo.Frame{}, fmt.Errorf("%w : invalid id %v", chademo.ErrIllegalArgument, idText)
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataText, ".", ""))
	if err != nil || len(data) > 8 {
		return chademo.Frame{}, fmt.Errorf("%w : invalid data %v", chademo.ErrIllegalArgument, dataText)
	}
	frame := chademo.NewFrame(uint32(id), 0, uint8(len(data)))
	if len(idText) > 3 {
		frame.ID |= chademo.CanEffFlag
	}
	copy(frame.Data[:], data)
	return frame, nil
}

func decodeFrame(codec *frames.Codec, text string) (string, error) {
	frame, err := parseFrame(text)
	if err != nil {
		return "", err
	}
	msg, err := codec.Decode(frame)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%03X %T %v", msg.ID(), msg, msg), nil
}

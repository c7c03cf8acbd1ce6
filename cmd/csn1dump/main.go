// Command csn1dump exercises the csn1 engine end to end against a small
// illustrative frame description. It is demo plumbing, not a 3GPP message
// table: real RLC/MAC grammars are an external collaborator's concern.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"unsafe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/csn1codec/csn1-go/lib/csn1"
)

// demoFrame is the illustrative message this binary decodes and encodes. It
// exercises a cross section of directive kinds: a fixed header, an L/H
// scrambled field, a guarded optional field, and a count-prefixed octet array.
type demoFrame struct {
	Version    uint8
	Scrambled  uint8
	HasPayload uint8
	PayloadLen uint8
	Payload    [8]uint8
}

func demoDescription() csn1.Description {
	payloadGroup := csn1.Description{
		csn1.Uint(unsafe.Offsetof(demoFrame{}.PayloadLen), 8, "payload-len"),
		csn1.VariableArray(unsafe.Offsetof(demoFrame{}.Payload), unsafe.Offsetof(demoFrame{}.PayloadLen), "payload"),
	}
	return csn1.Description{
		csn1.Fixed(4, 0xD, "magic"),
		csn1.Uint(unsafe.Offsetof(demoFrame{}.Version), 4, "version"),
		csn1.UintLH(unsafe.Offsetof(demoFrame{}.Scrambled), 6, "scrambled"),
		csn1.NextExist(unsafe.Offsetof(demoFrame{}.HasPayload), payloadGroup, "has-payload"),
		csn1.End("frame-end"),
	}
}

const demoBudget = 128

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "csn1dump: failed to start logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	root := &cobra.Command{
		Use:   "csn1dump",
		Short: "Decode, encode, and round-trip the illustrative demo frame",
	}
	root.AddCommand(newDecodeCmd(logger), newEncodeCmd(logger), newRoundtripCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newDecodeCmd(logger *zap.Logger) *cobra.Command {
	var hexInput string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a hex-encoded frame and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(hexInput)
			if err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}
			var frame demoFrame
			remaining, err := csn1.Decode(demoDescription(), data, demoBudget, unsafe.Pointer(&frame))
			if err != nil {
				logger.Error("decode failed", zap.Error(err))
				return err
			}
			logger.Info("decoded frame", zap.Int16("remaining_bits", remaining))
			out, err := json.MarshalIndent(frame, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&hexInput, "hex", "", "hex-encoded frame bytes")
	cmd.MarkFlagRequired("hex")
	return cmd
}

func newEncodeCmd(logger *zap.Logger) *cobra.Command {
	var jsonInput string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a JSON frame and print it as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			var frame demoFrame
			if err := json.Unmarshal([]byte(jsonInput), &frame); err != nil {
				return fmt.Errorf("invalid json input: %w", err)
			}
			remaining, wire, err := csn1.Encode(demoDescription(), demoBudget, unsafe.Pointer(&frame))
			if err != nil {
				logger.Error("encode failed", zap.Error(err))
				return err
			}
			logger.Info("encoded frame", zap.Int16("remaining_bits", remaining))
			fmt.Println(hex.EncodeToString(wire))
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonInput, "json", "", "JSON-encoded frame fields")
	cmd.MarkFlagRequired("json")
	return cmd
}

func newRoundtripCmd(logger *zap.Logger) *cobra.Command {
	var jsonInput string
	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Encode a JSON frame, decode the result, and report whether it matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			var src demoFrame
			if err := json.Unmarshal([]byte(jsonInput), &src); err != nil {
				return fmt.Errorf("invalid json input: %w", err)
			}
			desc := demoDescription()
			_, wire, err := csn1.Encode(desc, demoBudget, unsafe.Pointer(&src))
			if err != nil {
				logger.Error("encode failed", zap.Error(err))
				return err
			}
			var dst demoFrame
			_, err = csn1.Decode(desc, wire, demoBudget, unsafe.Pointer(&dst))
			if err != nil {
				logger.Error("decode failed", zap.Error(err))
				return err
			}
			match := src == dst
			logger.Info("round trip", zap.Bool("match", match), zap.String("wire", hex.EncodeToString(wire)))
			if !match {
				return fmt.Errorf("round trip mismatch: got %+v, want %+v", dst, src)
			}
			fmt.Println("OK", hex.EncodeToString(wire))
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonInput, "json", "", "JSON-encoded frame fields")
	cmd.MarkFlagRequired("json")
	return cmd
}

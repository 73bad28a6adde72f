package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/inference"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

func (a *app) predictCmd() *cobra.Command {
	var artifactID string
	cmd := &cobra.Command{
		Use:   "predict [file]",
		Short: "Predict from a JSON payload",
		Long: `Read a JSON payload from file (or stdin when omitted or "-") and print the
prediction of the latest artifact. The payload is an object of feature
values, optionally wrapped as {"features": {...}}, or an array of such
objects for a batch.`,
		Example: `  echo '{"age": 50, "hbA1c_level": 6.6, "blood_glucose_level": 140}' | diabeteskit predict
  diabeteskit predict patients.json --artifact 20240101120000.000000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPredict(cmd, args, artifactID)
		},
	}
	cmd.Flags().StringVar(&artifactID, "artifact", "", "artifact ID to use instead of the latest")
	return cmd
}

func (a *app) runPredict(cmd *cobra.Command, args []string, artifactID string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	payloads, batch, err := decodePayloads(data)
	if err != nil {
		return err
	}

	store, err := artifact.Open(a.cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	var b *artifact.Bundle
	if artifactID != "" {
		b, err = store.Load(cmd.Context(), artifactID)
	} else {
		b, err = store.LoadLatest(cmd.Context())
	}
	if err != nil {
		return err
	}

	results, err := inference.PredictBatch(payloads, b)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if batch {
		return enc.Encode(results)
	}
	return enc.Encode(results[0])
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, errors.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, errors.Wrapf(err, "read %s", args[0])
}

// decodePayloads accepts one payload object or an array of them.
func decodePayloads(data []byte) ([]inference.Payload, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		p, err := inference.DecodePayload(trimmed)
		if err != nil {
			return nil, false, err
		}
		return []inference.Payload{p}, false, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, true, errors.Wrap(err, "decode payload array")
	}
	payloads := make([]inference.Payload, len(raw))
	for i, r := range raw {
		p, err := inference.DecodePayload(r)
		if err != nil {
			return nil, true, errors.Wrapf(err, "payload %d", i)
		}
		payloads[i] = p
	}
	return payloads, true, nil
}

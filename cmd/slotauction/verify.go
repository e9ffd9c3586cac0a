package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/slotauction/auctionapi"
	"github.com/cloudx-io/slotauction/core"
	"github.com/cloudx-io/slotauction/validation"
)

type verifyFlags struct {
	result       string
	seat         string
	bid          string
	session      string
	winningPrice string
	winner       bool
	pcrs         string
	format       string
}

var verifyOpts verifyFlags

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the attestation of a group result",
	Long: `Validate the attestation of a group result as seen by one bidder.

Each JSON input accepts either a file path or inline JSON:
  --result  the result reply of the group
  --seat    the seat from the join reply, carrying round, group, treatment and valuations
  --bid     the bid from the success reply to a bid, omitted when no bid was placed

Exit codes: 0 validation passed, 1 validation failed, 2 invalid input or runtime error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := buildValidationInput(verifyOpts)
		if err != nil {
			return err
		}

		result, err := validation.ValidateResultAttestation(input)
		if err != nil {
			return fmt.Errorf("validation error: %w", err)
		}

		if verifyOpts.format == "json" {
			err = outputJSON(cmd.OutOrStdout(), result)
		} else {
			outputText(cmd.OutOrStdout(), result)
		}
		if err != nil {
			return err
		}

		if !result.IsValid() {
			return errInvalid
		}
		return nil
	},
}

func init() {
	f := verifyCmd.Flags()
	f.StringVar(&verifyOpts.result, "result", "", "Result reply JSON (file path or inline JSON)")
	f.StringVar(&verifyOpts.seat, "seat", "", "Seat JSON from the join reply (file path or inline JSON)")
	f.StringVar(&verifyOpts.bid, "bid", "", "Accepted bid JSON (file path or inline JSON)")
	f.StringVar(&verifyOpts.session, "session", "", "Session code")
	f.StringVar(&verifyOpts.winningPrice, "winning-price", "", "Announced winning price, empty if nobody won")
	f.BoolVar(&verifyOpts.winner, "winner", false, "The bid was announced as part of the winning allocation")
	f.StringVar(&verifyOpts.pcrs, "pcrs", "pcrs.json", "Known PCR sets (JSON)")
	f.StringVar(&verifyOpts.format, "format", "text", "Output format: text or json")
}

func buildValidationInput(opts verifyFlags) (*validation.ResultValidationInput, error) {
	if opts.result == "" || opts.seat == "" || opts.session == "" {
		return nil, fmt.Errorf("--result, --seat and --session are required")
	}

	var result auctionapi.ResultResponse
	if err := readJSONInput(opts.result, &result); err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	if result.Attestation == "" {
		return nil, fmt.Errorf("result carries no attestation")
	}

	var seat auctionapi.Seat
	if err := readJSONInput(opts.seat, &seat); err != nil {
		return nil, fmt.Errorf("reading seat: %w", err)
	}
	if seat.Group != result.Group {
		return nil, fmt.Errorf("seat is in group %d, result is for group %d", seat.Group, result.Group)
	}

	knownPCRs, err := validation.LoadPCRsFromFile(opts.pcrs)
	if err != nil {
		return nil, err
	}

	input := &validation.ResultValidationInput{
		Attestation: result.Attestation,
		KnownPCRs:   knownPCRs,
		SessionCode: opts.session,
		Round:       seat.Round,
		Group:       seat.Group,
		Treatment:   seat.Treatment,
		Valuations:  make(core.Valuations, len(seat.Valuations)),
		IsWinner:    opts.winner,
	}
	for _, v := range seat.Valuations {
		input.Valuations[v.Slots] = v.Value
	}

	if opts.bid != "" {
		var bid core.Bid
		if err := readJSONInput(opts.bid, &bid); err != nil {
			return nil, fmt.Errorf("reading bid: %w", err)
		}
		input.Bid = &bid
	}

	if opts.winningPrice != "" {
		price, err := core.ParseCurrency(opts.winningPrice)
		if err != nil {
			return nil, err
		}
		input.WinningPrice = &price
	}

	return input, nil
}

// readJSONInput decodes a file, or the input itself when no such file exists.
func readJSONInput(input string, v any) error {
	data, err := os.ReadFile(input)
	if err != nil {
		data = []byte(input)
	}
	return json.Unmarshal(data, v)
}

func outputText(w io.Writer, result *validation.ResultValidationResult) {
	fmt.Fprintln(w, "Slot Auction Result Attestation Validator")
	fmt.Fprintln(w, "=========================================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Fprintf(w, "  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Fprintf(w, "  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Round Hash Valid:        %v\n", result.RoundHashValid)
	fmt.Fprintf(w, "  Bid Hash Valid:          %v\n", result.BidHashValid)
	fmt.Fprintf(w, "  Valuations Valid:        %v\n", result.ValuationsValid)
	fmt.Fprintf(w, "  Winning Price Valid:     %v\n", result.WinningPriceValid)
	fmt.Fprintf(w, "  Winner Valid:            %v\n", result.WinnerValid)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}

	fmt.Fprintln(w)
	if result.IsValid() {
		fmt.Fprintln(w, "VALIDATION: PASSED")
	} else {
		fmt.Fprintln(w, "VALIDATION: FAILED")
	}
}

func outputJSON(w io.Writer, result *validation.ResultValidationResult) error {
	output := map[string]any{
		"valid":               result.IsValid(),
		"pcrs_valid":          result.PCRsValid,
		"certificate_valid":   result.CertificateValid,
		"signature_valid":     result.SignatureValid,
		"round_hash_valid":    result.RoundHashValid,
		"bid_hash_valid":      result.BidHashValid,
		"valuations_valid":    result.ValuationsValid,
		"winning_price_valid": result.WinningPriceValid,
		"winner_valid":        result.WinnerValid,
		"details":             result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

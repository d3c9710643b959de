package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-i2p/go-msgrouter/lib/auth"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/keys"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var inspectVerify bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [file|-]",
	Short: "Decode a hex encoded envelope and print its fields",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return oops.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			in = f
		}
		raw, err := readHex(in)
		if err != nil {
			return err
		}

		var verifier *auth.Verifier
		if inspectVerify {
			path, err := keyRingPath()
			if err != nil {
				return err
			}
			ring, err := keys.Load(path)
			if err != nil {
				return err
			}
			verifier = auth.NewVerifier(ring, ring, nil)
		}
		out, err := inspect(raw, verifier)
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectVerify, "verify", false, "check the signature and MAC against the key ring")
	inspectCmd.Flags().StringVar(&keyRingFlag, "keyring", "", "key ring file used by --verify (default from config)")
}

// readHex reads hex text, ignoring any whitespace in it.
func readHex(r io.Reader) ([]byte, error) {
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, oops.Wrapf(err, "read envelope")
	}
	raw, err := hex.DecodeString(strings.Join(strings.Fields(string(text)), ""))
	if err != nil {
		return nil, oops.Wrapf(err, "envelope is not hex")
	}
	return raw, nil
}

// inspect renders the envelope in raw. With a verifier it also reports
// whether the envelope authenticates.
func inspect(raw []byte, v *auth.Verifier) (string, error) {
	e, err := envelope.Decode(raw)
	if err != nil {
		fields := logger.Fields{"error": err.Error(), "bytes": len(raw)}
		if h, herr := envelope.PeekHeader(raw); herr == nil {
			fields["kind"] = h.Kind.String()
			fields["version"] = h.Version.String()
		}
		return renderFields("undecodable envelope", fields), err
	}
	out := renderFields(e.Kind().String()+" envelope", envelope.Describe(e))
	if v == nil {
		return out, nil
	}
	return out + "\n" + verdict(e, v), nil
}

func verdict(e envelope.Envelope, v *auth.Verifier) string {
	switch m := e.(type) {
	case envelope.RelayMessage:
		if err := v.VerifyRelay(m); err != nil {
			return renderVerdict(false, err.Error())
		}
		return renderVerdict(true, "signature and MAC valid")
	case envelope.Message:
		trust, err := v.VerifyMessage(m)
		if err != nil {
			return renderVerdict(false, err.Error())
		}
		return renderVerdict(trust == auth.Authenticated, trust.String())
	default:
		return renderVerdict(false, "unsupported envelope")
	}
}

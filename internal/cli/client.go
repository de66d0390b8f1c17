package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/privtx/internal/api"
	"github.com/roach88/privtx/internal/enc"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	From                string
	To                  []string
	PrivacyFlag         int
	Affected            []string
	ExecHash            string
	MandatoryRecipients []string
	PayloadFile         string
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send [payload]",
		Short: "Encrypt a payload and distribute it to its recipients",
		Long: `Encrypt a payload on the node, store it and push it to every recipient.

The payload is taken from the argument or from --payload-file.

Example:
  privtx send --to BULeR8JyUWhiuuCMU/HLA0Q5pzkYT+cHII3ZKBey3Bo= "hello"
  privtx send --to KEY1,KEY2 --privacy-flag 3 --exec-hash ZXhlYw== --payload-file tx.bin`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "sender public key (defaults to the node's first key)")
	cmd.Flags().StringSliceVar(&opts.To, "to", nil, "recipient public keys")
	cmd.Flags().IntVar(&opts.PrivacyFlag, "privacy-flag", 0, "privacy mode (0 standard, 1 party protection, 2 mandatory recipients, 3 private state validation)")
	cmd.Flags().StringSliceVar(&opts.Affected, "affected", nil, "affected contract transaction hashes")
	cmd.Flags().StringVar(&opts.ExecHash, "exec-hash", "", "base64 execution hash (private state validation)")
	cmd.Flags().StringSliceVar(&opts.MandatoryRecipients, "mandatory", nil, "mandatory recipient public keys")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "read the payload from a file")

	return cmd
}

func runSend(ctx context.Context, opts *SendOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	payload, err := readPayload(args, opts.PayloadFile)
	if err != nil {
		return f.Fail("invalid payload", err)
	}
	req := api.SendRequest{Payload: payload, PrivacyFlag: opts.PrivacyFlag}

	// Keys are parsed locally so a typo fails before any request is made
	if opts.From != "" {
		from, err := enc.ParsePublicKey(opts.From)
		if err != nil {
			return f.Fail("invalid --from", withCode(ErrCodeArgument, err))
		}
		req.From = &from
	}
	if req.To, err = parseKeys(opts.To); err != nil {
		return f.Fail("invalid --to", err)
	}
	if req.MandatoryRecipients, err = parseKeys(opts.MandatoryRecipients); err != nil {
		return f.Fail("invalid --mandatory", err)
	}
	for _, s := range opts.Affected {
		h, err := enc.ParseTxHash(strings.TrimSpace(s))
		if err != nil {
			return f.Fail("invalid --affected", withCode(ErrCodeArgument, err))
		}
		req.AffectedContractTransactions = append(req.AffectedContractTransactions, h)
	}
	if opts.ExecHash != "" {
		if req.ExecHash, err = decodeBase64(opts.ExecHash); err != nil {
			return f.Fail("invalid --exec-hash", withCode(ErrCodeArgument, err))
		}
	}

	// An empty --to is valid: the node keeps the transaction local (plus
	// any always-send-to keys)
	f.VerboseLog("Sending %d bytes to %d recipient(s)", len(payload), len(req.To))
	resp, err := api.NewClient(opts.URL, nil).Send(ctx, req)
	if err != nil {
		return f.Fail("send failed", clientErr(err))
	}
	return f.Success(resp, resp.Key.String())
}

// ReceiveOptions holds flags for the receive command.
type ReceiveOptions struct {
	*RootOptions
	To  string
	Raw bool
}

// NewReceiveCommand creates the receive command.
func NewReceiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "receive <hash>",
		Short:         "Fetch and decrypt a transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.To, "to", "", "decrypt as this local public key")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "read from the raw transaction store")

	return cmd
}

func runReceive(ctx context.Context, opts *ReceiveOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	hash, err := enc.ParseMessageHash(arg)
	if err != nil {
		return f.Fail("invalid hash", withCode(ErrCodeArgument, err))
	}
	// nil lets the node try each local key in turn
	var to *enc.PublicKey
	if opts.To != "" {
		k, err := enc.ParsePublicKey(opts.To)
		if err != nil {
			return f.Fail("invalid --to", withCode(ErrCodeArgument, err))
		}
		to = &k
	}

	resp, err := api.NewClient(opts.URL, nil).Receive(ctx, hash, to, opts.Raw)
	if err != nil {
		return f.Fail("receive failed", clientErr(err))
	}
	return f.Success(resp, string(resp.Payload))
}

// NewStoreRawCommand creates the store-raw command.
func NewStoreRawCommand(rootOpts *RootOptions) *cobra.Command {
	var from, payloadFile string

	cmd := &cobra.Command{
		Use:           "store-raw [payload]",
		Short:         "Encrypt and store a payload without distributing it",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			payload, err := readPayload(args, payloadFile)
			if err != nil {
				return f.Fail("invalid payload", err)
			}
			req := api.StoreRawRequest{Payload: payload}
			if from != "" {
				k, err := enc.ParsePublicKey(from)
				if err != nil {
					return f.Fail("invalid --from", withCode(ErrCodeArgument, err))
				}
				req.From = &k
			}
			resp, err := api.NewClient(rootOpts.URL, nil).StoreRaw(cmd.Context(), req)
			if err != nil {
				return f.Fail("store-raw failed", clientErr(err))
			}
			return f.Success(resp, resp.Key.String())
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender public key (defaults to the node's first key)")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "read the payload from a file")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <hash>",
		Short:         "Delete a transaction from the node",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			hash, err := enc.ParseMessageHash(args[0])
			if err != nil {
				return f.Fail("invalid hash", withCode(ErrCodeArgument, err))
			}
			if err := api.NewClient(rootOpts.URL, nil).Delete(cmd.Context(), hash); err != nil {
				return f.Fail("delete failed", clientErr(err))
			}
			return f.Success(map[string]string{"deleted": hash.String()}, "Deleted "+hash.String())
		},
	}
}

// NewResendCommand creates the resend command.
func NewResendCommand(rootOpts *RootOptions) *cobra.Command {
	var hashArg string

	cmd := &cobra.Command{
		Use:   "resend <public-key>",
		Short: "Push stored transactions to a recipient again",
		Long: `Republish transactions to a recipient that lost them.

Without --hash every transaction the key is entitled to is pushed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			key, err := enc.ParsePublicKey(args[0])
			if err != nil {
				return f.Fail("invalid public key", withCode(ErrCodeArgument, err))
			}
			// nil hash means resend everything
			var hash *enc.MessageHash
			if hashArg != "" {
				h, err := enc.ParseMessageHash(hashArg)
				if err != nil {
					return f.Fail("invalid --hash", withCode(ErrCodeArgument, err))
				}
				hash = &h
			}
			resp, err := api.NewClient(rootOpts.URL, nil).Resend(cmd.Context(), key, hash)
			if err != nil {
				return f.Fail("resend failed", clientErr(err))
			}
			return f.Success(resp, fmt.Sprintf("Pushed %d transaction(s)", resp.Pushed))
		},
	}

	cmd.Flags().StringVar(&hashArg, "hash", "", "resend a single transaction")

	return cmd
}

// NewUpcheckCommand creates the upcheck command.
func NewUpcheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "upcheck",
		Short:         "Check that a node is up and its database reachable",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if err := api.NewClient(rootOpts.URL, nil).Upcheck(cmd.Context()); err != nil {
				return f.Fail("upcheck failed", clientErr(err))
			}
			return f.Success(map[string]bool{"up": true}, "I'm up!")
		},
	}
}

// readPayload takes the payload from exactly one of the positional argument
// or --payload-file.
func readPayload(args []string, file string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, withCode(ErrCodeArgument, errors.New("give the payload as an argument or --payload-file, not both"))
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, withCode(ErrCodeArgument, err)
		}
		return data, nil
	case len(args) > 0:
		return []byte(args[0]), nil
	default:
		return nil, withCode(ErrCodeArgument, errors.New("no payload given"))
	}
}

// parseKeys decodes base64 public keys from a flag slice.
func parseKeys(in []string) ([]enc.PublicKey, error) {
	var out []enc.PublicKey
	for _, s := range in {
		k, err := enc.ParsePublicKey(strings.TrimSpace(s))
		if err != nil {
			return nil, withCode(ErrCodeArgument, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// clientErr tags transport failures so they are reported as unreachable.
func clientErr(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return err // the node answered; keep its error code
	}
	return withCode(ErrCodeUnreachable, err)
}

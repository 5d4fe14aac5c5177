package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"prefixd/internal/auth/token"
	"prefixd/internal/registry/attestation"
	id "prefixd/pkg/domain"
)

const keyEnv = "PREFIXD_KEY"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "prefixctl",
		Short:         "Operator tooling for the prefix registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newKeygenCmd(), newTokenCmd(), newAttestCmd(), newHashCmd())
	return root
}

type keyOutput struct {
	Principal string `json:"principal"`
	Seed      string `json:"seed"`
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 principal key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return err
			}
			p, err := id.PrincipalFromPublicKey(pub)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), keyOutput{Principal: p.String(), Seed: hex.EncodeToString(priv.Seed())})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		seed     string
		bodyPath string
		method   string
		path     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a single-use request token bound to a method, path and body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := loadKey(seed)
			if err != nil {
				return err
			}
			body, err := readInput(cmd.InOrStdin(), bodyPath)
			if err != nil {
				return err
			}
			req := token.Request{Method: method, Path: path, Body: body}
			raw, err := token.Issue(priv, req, time.Now(), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
			return err
		},
	}
	cmd.Flags().StringVar(&seed, "key", "", "hex Ed25519 seed (defaults to $"+keyEnv+")")
	cmd.Flags().StringVar(&bodyPath, "body", "", "request body file, - for stdin, empty for no body")
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method of the request")
	cmd.Flags().StringVar(&path, "path", "", "request path including the /v1 prefix")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Minute, "token lifetime")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newAttestCmd() *cobra.Command {
	var (
		seed string
		hash string
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Build the Ed25519 attestation operation over a metadata hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := loadKey(seed)
			if err != nil {
				return err
			}
			digest, err := id.ParseHash(hash)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), []attestation.Operation{attestation.NewEd25519Operation(priv, digest[:])})
		},
	}
	cmd.Flags().StringVar(&seed, "key", "", "hex Ed25519 seed (defaults to $"+keyEnv+")")
	cmd.Flags().StringVar(&hash, "hash", "", "hex metadata hash")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the SHA-256 metadata hash of a document (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			doc, err := readInput(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(doc)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sum[:]))
			return err
		},
	}
}

func loadKey(seed string) (ed25519.PrivateKey, error) {
	if seed == "" {
		seed = os.Getenv(keyEnv)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(seed))
	if err != nil || len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("key must be a %d-byte hex seed", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(path)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

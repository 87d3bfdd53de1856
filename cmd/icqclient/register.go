package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/storage"
)

var errRegistrationFailed = errors.New("registration failed")

func registerCmd(g *globals) *cobra.Command {
	var (
		password string
		image    string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		Long: `Register a new account with the given password. When the server asks
for verification the image is written to disk and the code is read from
standard input. The new account is stored as the owner.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if password == "" {
				password = cfg.Account.Password
			}
			if password == "" {
				return errors.New("--password is required")
			}
			cfg.Account.ID = ""
			if err := cfg.Validate(false); err != nil {
				return err
			}

			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			s, err := newStack(cfg, log, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return s.register(ctx, password, image, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password of the new account")
	cmd.Flags().StringVar(&image, "image", "verification", "file name for the verification image, without extension")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

// register runs one registration to the point where the server assigns an
// account id, answering verification prompts from in
func (s *stack) register(ctx context.Context, password, image string, in io.Reader) error {
	signals, cancel := s.bus.Subscribe(64)
	defer cancel()

	if err := s.client.Register(ctx, password); err != nil {
		return err
	}

	codes := bufio.NewReader(in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return errRegistrationFailed
			}
			switch sig.Kind {
			case notify.VerificationImage:
				v, _ := sig.Data.(notify.Verification)
				code, err := promptVerification(v, image, codes)
				if err != nil {
					return err
				}
				if err := s.client.SubmitVerification(code); err != nil {
					return err
				}
			case notify.NewOwner:
				return s.saveOwner(sig.Contact, password)
			case notify.Logoff:
				d, _ := sig.Data.(notify.Session)
				if !d.Retry {
					return fmt.Errorf("%w: %s", errRegistrationFailed, d.Reason)
				}
			}
		}
	}
}

func (s *stack) saveOwner(id, password string) error {
	err := s.db.SaveOwner(storage.Owner{AccountID: id, Password: password})
	switch {
	case errors.Is(err, storage.ErrDatabaseLocked):
		warn("No storage passphrase set, the new account is not stored")
	case err != nil:
		return err
	default:
		success("Stored account %s as owner", id)
	}
	success("Registered account %s", id)
	return nil
}

// promptVerification writes the image and reads one line of code
func promptVerification(v notify.Verification, image string, in *bufio.Reader) (string, error) {
	path := image + imageExtension(v.MIME)
	if err := os.WriteFile(path, v.Image, 0o600); err != nil {
		return "", fmt.Errorf("failed to write verification image: %w", err)
	}
	fmt.Printf("Verification image written to %s\nCode: ", path)

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read verification code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func imageExtension(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp", "image/x-bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}

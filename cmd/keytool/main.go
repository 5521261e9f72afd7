// Command keytool manages the encrypted bot wallet key file.
//
//	keytool encrypt -out wallet.json   reads the hex key and password from
//	                                   POOLBOT_PRIVATE_KEY / POOLBOT_KEY_PASSWORD
//	keytool address -in wallet.json    prints the address recorded in a file
//	keytool verify -in wallet.json     decrypts the file and prints its address
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/poolbot/internal/crypto"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "encrypt":
		err = encrypt(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "verify":
		err = verify(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("keytool failed",
			slog.String("command", os.Args[1]),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool encrypt|address|verify [flags]")
}

func encrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	out := fs.String("out", "wallet.json", "path of the encrypted key file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("POOLBOT_PRIVATE_KEY")
	password := os.Getenv("POOLBOT_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("POOLBOT_PRIVATE_KEY and POOLBOT_KEY_PASSWORD must be set")
	}

	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	addr, err := crypto.KeyFileAddress(*out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, addr)
	return nil
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	in := fs.String("in", "wallet.json", "encrypted key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.KeyFileAddress(*in)
	if err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func verify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	in := fs.String("in", "wallet.json", "encrypted key file")
	chainID := fs.Int64("chain-id", 31337, "chain id the signer is built for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		EncryptedKeyPath: *in,
		KeyPassword:      os.Getenv("POOLBOT_KEY_PASSWORD"),
	}, *chainID)
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/go-i2p/crypto/ed25519"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/keys"
	"github.com/go-i2p/go-msgrouter/lib/util"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var keyRingFlag string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a local Ed25519 identity into the key ring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := keyRingPath()
		if err != nil {
			return err
		}
		existed := util.FileExists(path)
		ring, err := keys.LoadOrCreate(path)
		if err != nil {
			return err
		}
		var id identity.ExternalIdentity
		if existed {
			if id, err = ring.Generate(); err != nil {
				return err
			}
			if err := ring.Save(path); err != nil {
				return err
			}
		} else {
			id = ring.Local()[0]
		}
		pub, _ := ring.SigningPublicKey(id)
		fmt.Fprintln(cmd.OutOrStdout(), renderVerdict(true, "identity generated"))
		fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("identity")+" "+id.String())
		fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("public")+" "+hex.EncodeToString(pub.Bytes()))
		fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("key ring")+" "+dimStyle.Render(path))
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the key ring",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ring, _, err := openKeyRing()
		if err != nil {
			return err
		}
		rows := [][]string{}
		for _, id := range ring.Identities() {
			role := "remote"
			if ring.IsLocal(id) {
				role = "local"
			}
			pub, _ := ring.SigningPublicKey(id)
			rows = append(rows, []string{id.String(), role, hex.EncodeToString(pub.Bytes())})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"identity", "role", "public key"}, rows))
		return nil
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import <public-key-hex>",
	Short: "Add a remote Ed25519 public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hex.DecodeString(args[0])
		if err != nil {
			return oops.Wrapf(err, "public key is not hex")
		}
		pub, err := ed25519.NewEd25519PublicKey(raw)
		if err != nil {
			return err
		}
		ring, path, err := openKeyRing()
		if err != nil {
			return err
		}
		id := ring.Add(pub)
		if err := ring.Save(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderVerdict(true, "imported "+id.String()))
		return nil
	},
}

var keysSecretCmd = &cobra.Command{
	Use:   "secret <identity-a> <identity-b> [secret-hex]",
	Short: "Store the relay secret shared by two identities",
	Long: `Store the relay secret that keys MACs between two identities. Without
a secret argument a fresh one is generated and printed so it can be given
to the other side.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := identity.Parse(args[0])
		if err != nil {
			return err
		}
		b, err := identity.Parse(args[1])
		if err != nil {
			return err
		}
		var secret []byte
		if len(args) == 3 {
			if secret, err = hex.DecodeString(args[2]); err != nil {
				return oops.Wrapf(err, "secret is not hex")
			}
		} else if secret, err = keys.NewRelaySecret(); err != nil {
			return err
		}

		ring, path, err := openKeyRing()
		if err != nil {
			return err
		}
		if err := ring.AddRelaySecret(a, b, secret); err != nil {
			return err
		}
		if err := ring.Save(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderVerdict(true, "relay secret stored for "+a.Short()+" <-> "+b.Short()))
		fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("secret")+" "+hex.EncodeToString(secret))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{keygenCmd, keysCmd} {
		c.PersistentFlags().StringVar(&keyRingFlag, "keyring", "", "key ring file (default from config)")
	}
	keysCmd.AddCommand(keysListCmd, keysImportCmd, keysSecretCmd)
}

func keyRingPath() (string, error) {
	if keyRingFlag != "" {
		return util.ExpandHome(keyRingFlag), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.KeyRing.Path, nil
}

func openKeyRing() (*keys.KeyRing, string, error) {
	path, err := keyRingPath()
	if err != nil {
		return nil, "", err
	}
	ring, err := keys.LoadOrCreate(path)
	if err != nil {
		return nil, "", err
	}
	return ring, path, nil
}

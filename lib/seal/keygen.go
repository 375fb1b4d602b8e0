// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"fmt"
	"time"

	"filippo.io/age"
)

// Identity is a freshly generated X25519 keypair in age's string
// encoding.
type Identity struct {
	// Secret is the AGE-SECRET-KEY-1... private key.
	Secret string

	// Recipient is the age1... public key to put in the configuration.
	Recipient string
}

// GenerateIdentity creates a new X25519 identity.
func GenerateIdentity() (Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Identity{}, fmt.Errorf("generating identity: %w", err)
	}
	return Identity{
		Secret:    identity.String(),
		Recipient: identity.Recipient().String(),
	}, nil
}

// File renders the identity in the layout age-keygen uses, readable by
// [ReadIdentitiesFile] and by the age CLI.
func (i Identity) File(created time.Time) []byte {
	return []byte(fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		created.UTC().Format(time.RFC3339), i.Recipient, i.Secret))
}

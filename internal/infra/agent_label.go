package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// KeyAgentLabel is the settings key holding the boot agent label.
const KeyAgentLabel = "agent_label"

// EnsureAgentLabel returns the boot agent label stored in settings,
// generating one on first use. The random suffix keeps hosts with
// different data dirs from replacing each other's agent.
func EnsureAgentLabel(store domain.KeyValueStore) (string, error) {
	label, ok, err := store.Get(KeyAgentLabel)
	if err == nil && ok && label != "" {
		return label, nil
	}

	label, err = generateAgentLabel()
	if err != nil {
		return "", fmt.Errorf("failed to generate agent label: %w", err)
	}
	if err := store.Set(KeyAgentLabel, label); err != nil {
		return "", fmt.Errorf("failed to store agent label: %w", err)
	}
	return label, nil
}

// generateAgentLabel creates a label like "io.bgsvc.host.a8f3b2c1".
func generateAgentLabel() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", DefaultAgentLabel, hex.EncodeToString(b)), nil
}

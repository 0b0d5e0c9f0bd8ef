package messages

import (
	"encoding/json"
	"fmt"
	"os"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Messages struct {
	BankLinked         MessageText `json:"bank_linked"`
	BankRevoked        MessageText `json:"bank_revoked"`
	InvitationReceived MessageText `json:"invitation_received"`
}

// Defaults returns the built-in notification texts, used when no
// messages file is configured.
func Defaults() *Messages {
	return &Messages{
		BankLinked: MessageText{
			Title: "Bankrekening gekoppeld",
			Body:  "Je bankrekening %s is succesvol gekoppeld.",
		},
		BankRevoked: MessageText{
			Title: "Bankkoppeling verwijderd",
			Body:  "De koppeling met %s en alle bijbehorende transacties zijn verwijderd.",
		},
		InvitationReceived: MessageText{
			Title: "Gedeelde bankrekening",
			Body:  "%s heeft je toegang gegeven tot een gedeelde bankrekening.",
		},
	}
}

// Load reads a notifications JSON file. An empty path yields the built-in
// defaults. Each call reads the file it is given; callers wanting a cache
// hold on to the result.
func Load(path string) (*Messages, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}

	var texts Messages
	if err := json.Unmarshal(data, &texts); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}
	return &texts, nil
}

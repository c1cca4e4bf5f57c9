/*
seed.go - Card registry seeding

PURPOSE:
  Cards are provisioned out of band; the ledger never creates them. A seed
  file lets a deployment (or a demo) register its cards at startup.

FILE FORMAT (YAML):

	cards:
	  - id: card-alice
	    cardholder: Alice
	    initials: AL
	  - id: card-bob
	    cardholder: Bob
	    initials: BO
	    active: false

  "active" defaults to true. Applying a seed is idempotent: existing cards
  are overwritten with the file's values.

SEE ALSO:
  - cmd/server/main.go: applies LEDGER_SEED_FILE at startup
  - cmd/ledgerctl: "seed" command
*/
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/who-owes-who/ledger"
)

// File is the decoded seed document.
type File struct {
	Cards []CardEntry `yaml:"cards"`
}

// CardEntry is one card in a seed file.
type CardEntry struct {
	ID         string `yaml:"id"`
	Cardholder string `yaml:"cardholder"`
	Initials   string `yaml:"initials"`
	Active     *bool  `yaml:"active"`
}

// Card converts the entry to a ledger card.
func (e CardEntry) Card() ledger.Card {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return ledger.Card{
		ID:         ledger.CardID(strings.TrimSpace(e.ID)),
		Cardholder: strings.TrimSpace(e.Cardholder),
		Initials:   strings.TrimSpace(e.Initials),
		Active:     active,
	}
}

// Load reads and validates a seed file.
func Load(path string) ([]ledger.Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a seed document from r.
func Decode(r io.Reader) ([]ledger.Card, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	cards := make([]ledger.Card, 0, len(doc.Cards))
	seen := make(map[ledger.CardID]bool, len(doc.Cards))
	for i, entry := range doc.Cards {
		card := entry.Card()
		if card.ID == "" {
			return nil, fmt.Errorf("card %d: id is required", i+1)
		}
		if card.Cardholder == "" {
			return nil, fmt.Errorf("card %s: cardholder is required", card.ID)
		}
		if seen[card.ID] {
			return nil, fmt.Errorf("card %s: duplicate id", card.ID)
		}
		seen[card.ID] = true
		cards = append(cards, card)
	}
	return cards, nil
}

// Apply registers cards with the registrar in file order.
func Apply(ctx context.Context, reg ledger.CardRegistrar, cards []ledger.Card) error {
	for _, c := range cards {
		if err := reg.SaveCard(ctx, c); err != nil {
			return fmt.Errorf("save card %s: %w", c.ID, err)
		}
	}
	return nil
}

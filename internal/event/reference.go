package event

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// note identifiers are bech32: "note1" followed by charset data.
var noteRe = regexp.MustCompile(`note1[qpzry9x8gf2tvdw0s3jn54khce6mua7l]{8,}`)

type embeddedEvent struct {
	Kind int    `json:"kind"`
	ID   string `json:"id"`
}

// ExtractReferences scans free text (a payer note) for references to a
// ZipZap request. Two forms are recognized: direct note1... tokens, and a
// payer note that is itself the request event as JSON, in which case its id
// is re-encoded to note form for uniform handling. Order is preserved and
// duplicates removed; the caller decides how many to act on.
func ExtractReferences(text string) []string {
	refs := noteRe.FindAllString(text, -1)
	var embedded embeddedEvent
	if err := json.Unmarshal([]byte(text), &embedded); err == nil {
		if embedded.Kind == KindZipZapRequest && embedded.ID != "" {
			if note, err := nip19.EncodeNote(embedded.ID); err == nil {
				refs = append(refs, note)
			}
		}
	}
	return uniqueStrings(refs)
}

// DecodeNoteID resolves a note1... reference to the raw hex event id.
func DecodeNoteID(note string) (string, error) {
	prefix, value, err := nip19.Decode(note)
	if err != nil {
		return "", errors.New(errors.InvalidInputError, fmt.Errorf("undecodable note reference: %w", err))
	}
	if prefix != "note" {
		return "", errors.New(errors.InvalidInputError, fmt.Errorf("reference is a %s, not a note", prefix))
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", errors.New(errors.InvalidInputError, fmt.Errorf("note reference decoded to nothing"))
	}
	return id, nil
}

func uniqueStrings(slice []string) []string {
	keys := make(map[string]bool)
	list := []string{}
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

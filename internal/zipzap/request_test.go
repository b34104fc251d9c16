package zipzap_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/massmux/zipzapd/internal/zipzap"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequest(t *testing.T) {
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	publisher := &fakePublisher{}

	params := zipzap.RequestParams{
		PostID:   strings.Repeat("b", 64),
		Author:   strings.Repeat("a", 64),
		Offer:    "lno1qsgqmqvgnnp6",
		RelayUrl: "wss://relay.example.com",
	}
	ev, note, err := zipzap.CreateRequest(context.Background(), s, publisher, params)
	require.NoError(t, err)

	assert.Equal(t, event.KindZipZapRequest, ev.Kind)
	assert.Equal(t, event.RequestContent, ev.Content)
	require.NoError(t, event.Validate(&ev))

	expectedNote, err := nip19.EncodeNote(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, expectedNote, note)

	// the round trip the payer note will take
	refs := event.ExtractReferences("tipping you! " + note)
	require.Len(t, refs, 1)
	id, err := event.DecodeNoteID(refs[0])
	require.NoError(t, err)
	assert.Equal(t, ev.ID, id)

	req, err := event.ParseZipZapRequest(ev)
	require.NoError(t, err)
	assert.Equal(t, params.PostID, req.PostID)
	assert.Equal(t, params.Author, req.Receiver)
	assert.Equal(t, params.Offer, req.Offer)
	assert.Equal(t, params.RelayUrl, req.RelayUrl)

	require.Len(t, publisher.published, 1)
}

func TestCreateRequest_ValidatesInput(t *testing.T) {
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	_, _, err = zipzap.CreateRequest(context.Background(), s, &fakePublisher{}, zipzap.RequestParams{
		Author: strings.Repeat("a", 64), Offer: "lno1",
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidInputError))

	_, _, err = zipzap.CreateRequest(context.Background(), s, &fakePublisher{}, zipzap.RequestParams{
		PostID: strings.Repeat("b", 64), Author: strings.Repeat("a", 64),
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InvalidInputError), "an author without an offer is not tippable")
}

func TestCreateRequest_PublishFailureIsSoft(t *testing.T) {
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	publisher := &fakePublisher{err: fmt.Errorf("publish timed out")}

	ev, note, err := zipzap.CreateRequest(context.Background(), s, publisher, zipzap.RequestParams{
		PostID: strings.Repeat("b", 64),
		Author: strings.Repeat("a", 64),
		Offer:  "lno1qsgqmqvgnnp6",
	})
	require.Error(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, note, "the note is still usable as a payer note")
}

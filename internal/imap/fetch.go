package imap

import (
	"fmt"
	"io"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// rawMessage is one fetched mailbox item. Raw is nil when the server returned no body.
type rawMessage struct {
	UID uint32
	Raw []byte
}

// FetchRaw fetches the full RFC 822 source of each UID without setting \Seen.
// Items come back in ascending UID order; UIDs the server did not return are absent.
func FetchRaw(c *client.Client, uids []uint32) ([]rawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []rawMessage{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []rawMessage
	for msg := range messages {
		item := rawMessage{UID: msg.Uid}
		if body := msg.GetBody(section); body != nil {
			raw, err := io.ReadAll(body)
			if err == nil && len(raw) > 0 {
				item.Raw = raw
			}
		}
		result = append(result, item)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result, nil
}

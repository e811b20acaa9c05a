package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// SearchUIDsSince returns the UIDs of INBOX messages with UID >= minUID.
// minUID 0 or 1 searches the whole mailbox.
func SearchUIDsSince(c *client.Client, minUID uint32) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if minUID == 0 {
		minUID = 1
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(minUID, 0)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search UIDs: %w", err)
	}

	return uids, nil
}

// selectUnseen keeps UIDs above the watermark, sorted ascending, and caps the
// batch at the limit most recent ones. A "W+1:*" search still returns the
// highest UID when it is <= W, so the range check is required.
func selectUnseen(uids []uint32, watermark uint32, limit int) []uint32 {
	unseen := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > watermark {
			unseen = append(unseen, uid)
		}
	}
	sort.Slice(unseen, func(i, j int) bool { return unseen[i] < unseen[j] })

	if limit > 0 && len(unseen) > limit {
		unseen = unseen[len(unseen)-limit:]
	}
	return unseen
}

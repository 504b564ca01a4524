package comments

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"marginalia/internal/util"
)

type Type string

const (
	TypeComment Type = "comment"
	TypeThread  Type = "thread"
)

// Item is an entry of the comments collection: a Comment or a Thread.
type Item interface {
	ItemID() string
	ItemType() Type
	clone() Item
}

type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	TimeStamp int64  `json:"timeStamp"`
	Type      Type   `json:"type"`
	Deleted   bool   `json:"deleted"`
}

func (c Comment) ItemID() string { return c.ID }
func (c Comment) ItemType() Type { return TypeComment }
func (c Comment) clone() Item    { return c }

// Tombstone returns c with its content cleared and marked deleted.
func (c Comment) Tombstone() Comment {
	c.Content = ""
	c.Deleted = true
	return c
}

// Thread is a top-level discussion anchored to the quoted text.
type Thread struct {
	ID       string    `json:"id"`
	Type     Type      `json:"type"`
	Quote    string    `json:"quote"`
	Comments []Comment `json:"comments"`
}

func (t Thread) ItemID() string { return t.ID }
func (t Thread) ItemType() Type { return TypeThread }

func (t Thread) clone() Item {
	t.Comments = slices.Clone(t.Comments)
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	return t
}

// Live counts the comments that are not tombstones.
func (t Thread) Live() int {
	n := 0
	for _, c := range t.Comments {
		if !c.Deleted {
			n++
		}
	}
	return n
}

func NewComment(content, author string) Comment {
	return Comment{
		ID:        util.NewID("cmt"),
		Author:    author,
		Content:   content,
		TimeStamp: time.Now().UnixMilli(),
		Type:      TypeComment,
	}
}

func NewThread(quote string, comments ...Comment) Thread {
	return Thread{
		ID:       util.NewID("thr"),
		Type:     TypeThread,
		Quote:    quote,
		Comments: append([]Comment{}, comments...),
	}
}

// DecodeItem parses a JSON comment or thread, dispatching on its type field.
func DecodeItem(data []byte) (Item, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	switch head.Type {
	case TypeComment:
		var c Comment
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		if c.ID == "" {
			return nil, fmt.Errorf("decode comment: missing id")
		}
		return c, nil
	case TypeThread:
		var t Thread
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		if t.ID == "" {
			return nil, fmt.Errorf("decode thread: missing id")
		}
		for i := range t.Comments {
			t.Comments[i].Type = TypeComment
		}
		return t.clone(), nil
	default:
		return nil, fmt.Errorf("decode item: unknown type %q", head.Type)
	}
}

func EncodeItem(item Item) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", item.ItemID(), err)
	}
	return data, nil
}

// EncodeItems serializes a collection as a JSON array.
func EncodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

// DecodeItems is the inverse of EncodeItems.
func DecodeItems(data []byte) ([]Item, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item, err := DecodeItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

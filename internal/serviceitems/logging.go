package serviceitems

import (
	"strings"

	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
)

// Codec is Decode/Encode with diagnostics. Results are identical to the
// package functions; corrupt fragments are only reported, never surfaced.
type Codec struct {
	logger *logrus.Logger
}

func NewCodec(logger *logrus.Logger) *Codec {
	return &Codec{logger: logger}
}

func (c *Codec) Decode(orderID, description string) Decoded {
	decoded, ok := decode(description)
	if !ok && strings.Contains(description, `"__metadata"`) {
		c.logger.WithFields(logrus.Fields{
			"order_id":           orderID,
			"description_length": len(description),
		}).Warn("Service items fragment present but unreadable, falling back to plain notes")
	}
	return decoded
}

func (c *Codec) Encode(orderID, notes string, items []models.ServiceItem) string {
	encoded, err := encode(notes, items)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":    orderID,
			"items_count": len(items),
		}).Error("Failed to encode service items, keeping notes only")
		return notes
	}
	return encoded
}

// ReplaceNotes is the logged form of the package ReplaceNotes.
func (c *Codec) ReplaceNotes(orderID, description, notes string) string {
	return replaceNotes(c.Decode(orderID, description), notes)
}

// AppendItem adds item unless an item with the same id is already present,
// in which case it reports false.
func (c *Codec) AppendItem(orderID, description string, item models.ServiceItem) (string, bool) {
	decoded := c.Decode(orderID, description)
	if indexOf(decoded.Items, item.ID) >= 0 {
		return description, false
	}
	return appendItem(decoded, item), true
}

func (c *Codec) RemoveItem(orderID, description, itemID string) (string, bool) {
	updated, ok := removeItem(c.Decode(orderID, description), itemID)
	if !ok {
		return description, false
	}
	return updated, true
}

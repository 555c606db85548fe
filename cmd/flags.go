package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/marcus/coursesync/internal/models"
)

// statusValue is a pflag.Value restricted to draft statuses.
type statusValue models.Status

var _ pflag.Value = (*statusValue)(nil)

func (s *statusValue) String() string { return string(*s) }
func (s *statusValue) Type() string   { return "status" }

func (s *statusValue) Set(v string) error {
	if v != "" && !models.IsValidStatus(models.Status(v)) {
		return fmt.Errorf("invalid status %q (draft, pending, synced, failed)", v)
	}
	*s = statusValue(v)
	return nil
}

// kindValue is a pflag.Value restricted to cached collection kinds.
type kindValue models.CollectionKind

var _ pflag.Value = (*kindValue)(nil)

func (k *kindValue) String() string { return string(*k) }
func (k *kindValue) Type() string   { return "kind" }

func (k *kindValue) Set(v string) error {
	if !models.IsValidCollection(models.CollectionKind(v)) {
		return fmt.Errorf("invalid collection %q (announcements, discussions)", v)
	}
	*k = kindValue(v)
	return nil
}

// parseKind validates a positional collection argument.
func parseKind(arg string) (models.CollectionKind, error) {
	var k kindValue
	if err := k.Set(arg); err != nil {
		return "", err
	}
	return models.CollectionKind(k), nil
}

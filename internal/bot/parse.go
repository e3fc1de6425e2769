package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"feedrouter/internal/classifier"
	"feedrouter/internal/model"
)

// ParseCategories turns a list of categories into canonical ones. Items are
// separated by commas; without commas every word is an item, so multi-word
// names need commas ("premier league, f1").
func ParseCategories(cls *classifier.Classifier, args string) ([]model.Category, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil, errors.New("at least one category is required")
	}

	var items []string
	if strings.Contains(args, ",") {
		items = strings.Split(args, ",")
	} else {
		items = strings.Fields(args)
	}

	var cats []model.Category
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		cat, ok := cls.Normalize(item)
		if !ok {
			return nil, fmt.Errorf("unknown category %q, see /categories", item)
		}
		cats = append(cats, cat)
	}
	if len(cats) == 0 {
		return nil, errors.New("at least one category is required")
	}
	return lo.Uniq(cats), nil
}

// ParseChannelArgs parses "<website|social> <on|off>".
func ParseChannelArgs(args string) (model.Channel, bool, error) {
	parts := strings.Fields(strings.ToLower(args))
	if len(parts) != 2 {
		return "", false, errors.New("usage: /channel <website|social> <on|off>")
	}

	ch := model.Channel(parts[0])
	if !lo.Contains(model.Channels, ch) {
		return "", false, fmt.Errorf("unknown channel %q, use: website, social", parts[0])
	}

	on, err := parseSwitch(parts[1])
	if err != nil {
		return "", false, err
	}
	return ch, on, nil
}

// ParseBindArgs parses "<category> [thread_id]". A missing thread ID binds
// the category to the chat's default stream.
func ParseBindArgs(cls *classifier.Classifier, args string) (model.Category, int, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", 0, errors.New("usage: /bind <category> [thread_id]")
	}

	thread := 0
	if last := parts[len(parts)-1]; len(parts) > 1 {
		if n, err := strconv.Atoi(last); err == nil {
			if n < 0 {
				return "", 0, fmt.Errorf("invalid thread ID %q", last)
			}
			thread = n
			parts = parts[:len(parts)-1]
		}
	}

	raw := strings.Join(parts, " ")
	cat, ok := cls.Normalize(raw)
	if !ok {
		return "", 0, fmt.Errorf("unknown category %q, see /categories", raw)
	}
	return cat, thread, nil
}

// ParseCategoryArg parses a single category argument.
func ParseCategoryArg(cls *classifier.Classifier, args string) (model.Category, error) {
	if strings.TrimSpace(args) == "" {
		return "", errors.New("category is required")
	}
	cat, ok := cls.Normalize(args)
	if !ok {
		return "", fmt.Errorf("unknown category %q, see /categories", strings.TrimSpace(args))
	}
	return cat, nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "enable", "enabled", "yes":
		return true, nil
	case "off", "disable", "disabled", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid state %q, use: on, off", s)
	}
}

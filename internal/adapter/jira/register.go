package jira

import (
	"encoding/json"

	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
)

func init() {
	ticketplugin.RegisterFactory(toolType, func(deps ticketplugin.Deps, raw json.RawMessage) (ticketplugin.Plugin, error) {
		s, err := ParseSettings(raw)
		if err != nil {
			return nil, err
		}
		return New(deps, s), nil
	})
}

package main

// Plugin blank imports. Each import registers a compiled-in factory that
// discovery and the static plugin list can name.

import (
	_ "github.com/Strob0t/TicketForge/internal/adapter/jira"
	_ "github.com/Strob0t/TicketForge/internal/adapter/servicedeskplus"
)

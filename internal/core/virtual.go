package core

// VirtualPrinter describes the single printer identity the service exposes
// to clients, regardless of whether a physical endpoint is configured. Jobs
// submitted against it while disconnected are held durably and replayed.
type VirtualPrinter struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Model       string   `json:"model"`
	State       string   `json:"state"`
	Connected   bool     `json:"connected"`
	PaperWidths []string `json:"paper_widths"`
	ColorMode   string   `json:"color_mode"`
	MediaKinds  []string `json:"media_kinds"`
}

const virtualPrinterID = "inkfeed-virtual"

// VirtualPrinter returns the advertised printer surface. There is always
// exactly one, and it stays idle rather than stopped while no endpoint is
// configured so submissions keep flowing into the queue; link connectivity
// is reported separately.
func (o *Orchestrator) VirtualPrinter() VirtualPrinter {
	state := "idle"
	o.mu.Lock()
	if o.active != nil {
		state = "processing"
	}
	o.mu.Unlock()
	return VirtualPrinter{
		ID:          virtualPrinterID,
		Name:        "Inkfeed Thermal Printer",
		Model:       "ESC/POS Receipt",
		State:       state,
		Connected:   o.EndpointConnected(),
		PaperWidths: []string{"narrow", "wide"},
		ColorMode:   "monochrome",
		MediaKinds:  []string{"text", "document", "raw"},
	}
}

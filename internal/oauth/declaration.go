package oauth

const (
	FlowPassword          = "password"
	FlowClientCredentials = "client_credentials"
)

// Declaration defines the OAuth contract a provider must provide.
type Declaration struct {
	Provider  string
	Flow      string
	TokenURL  string
	Scope     string
	StatePath string
}

// FlairScope covers every resource the bridge reads or mutates.
const FlairScope = "vents.view vents.edit structures.view structures.edit pucks.view pucks.edit rooms.view rooms.edit users.view"

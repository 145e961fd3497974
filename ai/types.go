package ai

// Provider names accepted by Config.Provider.
const (
	ProviderHashed = "hashed"
	ProviderOpenAI = "openai"
)

// ModelInfo identifies an embedding model. It is persisted next to every
// processed page so stored vectors can be traced to the model that made them.
type ModelInfo struct {
	ModelID   string `json:"model_id"`
	Dimension int    `json:"dimension"`
	Provider  string `json:"provider"`
}

package model

// params for Flags
type CommandLineFlags struct {
	Host   *string `json:"host"`
	Port   *string `json:"port"`
	Config *string `json:"config"`
}

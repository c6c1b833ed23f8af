package domain

import "strings"

// DanceStyles is the fixed allow-list of generation presets.
var DanceStyles = []string{"disco", "breakdance", "salsa", "hiphop", "ballet", "robot"}

var styleDescriptions = map[string]string{
	"disco":      "doing an energetic 70s disco dance with pointing moves under colorful lights",
	"breakdance": "breakdancing with spins, freezes and dynamic power moves",
	"salsa":      "dancing a lively salsa with rhythmic hip movement",
	"hiphop":     "performing a confident hip hop routine with sharp moves",
	"ballet":     "gracefully performing ballet with elegant twirls",
	"robot":      "doing the robot dance with stiff mechanical movements",
}

// IsValidDanceStyle reports whether the style is on the allow-list.
func IsValidDanceStyle(style string) bool {
	_, ok := styleDescriptions[strings.ToLower(strings.TrimSpace(style))]
	return ok
}

// DanceInstruction synthesizes the natural-language generation prompt sent to
// the inference provider for the given style. The style must already be
// validated; unknown styles fall back to a generic dancing instruction.
func DanceInstruction(style string) string {
	desc, ok := styleDescriptions[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		desc = "dancing happily"
	}
	parts := []string{
		"Make the pet in this image come alive,",
		desc + ".",
		"Keep the pet's appearance, fur and proportions faithful to the photo.",
		"Smooth motion, steady camera, well lit.",
	}
	return strings.Join(parts, " ")
}

package statestore

import "fmt"

// Watch keys follow "<namespace>/<kind>/<name>" so a watch on a prefix like
// "artifact/Scenario/" only replays and streams Scenario changes, while a
// watch on "artifact/" spans every kind.
func artifactKey(kind, name string) string {
	return fmt.Sprintf("artifact/%s/%s", kind, name)
}

func artifactPrefix(kind string) string {
	if kind == "" {
		return "artifact/"
	}
	return fmt.Sprintf("artifact/%s/", kind)
}

func nodeKey(id string) string {
	return fmt.Sprintf("node/%s", id)
}

const nodePrefix = "node/"

func containerKey(id string) string {
	return fmt.Sprintf("container/%s", id)
}

package mqtt

import "strings"

// Match reports whether topic matches filter under MQTT wildcard rules.
//   - '+' matches exactly one level, '#' matches the parent and every level below it.
//   - Topics starting with '$' are only matched by filters that name the first level explicitly.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") && (filterLevels[0] == "+" || filterLevels[0] == "#") {
		return false
	}

	for i, f := range filterLevels {
		if f == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if f == "+" {
			continue
		}
		if f != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

package config

// mergeTriggers merges built-in and user-defined trigger specs.
// User-defined triggers override built-in triggers with the same name.
func mergeTriggers(builtinTriggers []TriggerSpec, userTriggers []TriggerSpec) []TriggerSpec {
	result := make([]TriggerSpec, 0, len(builtinTriggers)+len(userTriggers))
	byName := make(map[string]int, len(builtinTriggers)+len(userTriggers))

	for _, t := range builtinTriggers {
		byName[t.Name] = len(result)
		result = append(result, t)
	}

	for _, t := range userTriggers {
		if idx, ok := byName[t.Name]; ok {
			result[idx] = t
			continue
		}
		byName[t.Name] = len(result)
		result = append(result, t)
	}

	return result
}

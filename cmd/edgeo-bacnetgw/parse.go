package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// parseObjectIdentifier parses type:instance, with the type given by name
// (analog-input), abbreviation (ai) or number (0)
func parseObjectIdentifier(s string) (bacnet.ObjectIdentifier, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("expected format type:instance (e.g., analog-input:1)")
	}

	instance, err := strconv.ParseUint(parts[1], 10, 22)
	if err != nil {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("invalid instance number: %s", parts[1])
	}

	if typeNum, err := strconv.ParseUint(parts[0], 10, 10); err == nil {
		return bacnet.NewObjectIdentifier(bacnet.ObjectType(typeNum), uint32(instance)), nil
	}

	objType, ok := bacnet.ParseObjectType(parts[0])
	if !ok {
		return bacnet.ObjectIdentifier{}, fmt.Errorf("unknown object type: %s", parts[0])
	}

	return bacnet.NewObjectIdentifier(objType, uint32(instance)), nil
}

func parsePropertyIdentifier(s string) (bacnet.PropertyIdentifier, error) {
	if propNum, err := strconv.ParseUint(s, 10, 22); err == nil {
		return bacnet.PropertyIdentifier(propNum), nil
	}

	prop, ok := bacnet.ParsePropertyIdentifier(s)
	if !ok {
		return 0, fmt.Errorf("unknown property: %s", s)
	}
	return prop, nil
}

// parseValue guesses the application type of a command line value
func parseValue(s string) (interface{}, error) {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "null":
		return nil, nil
	case "true", "active", "on":
		return true, nil
	case "false", "inactive", "off":
		return false, nil
	}

	if (strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2) ||
		(strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") && len(s) >= 2) {
		return s[1 : len(s)-1], nil
	}

	if strings.ContainsAny(s, ".eE") {
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return float32(f), nil
		}
	}

	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		if i < 0 {
			return int32(i), nil
		}
		return uint32(i), nil
	}

	return s, nil
}

// formatValue renders a decoded point value
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case string:
		return v
	case bacnet.ObjectIdentifier:
		return v.String()
	case []byte:
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

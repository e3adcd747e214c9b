package errors

import "fmt"

// Configuration Errors
func ConfigNotFound(path string) *FleetError {
	return NewWithDetails(ErrConfigNotFound, "Configuration file not found", fmt.Sprintf("Path: %s", path))
}

func ConfigParseError(path string, cause error) *FleetError {
	return WrapWithDetails(ErrConfigParse, "Failed to parse configuration", fmt.Sprintf("Path: %s", path), cause)
}

func ConfigValidationError(field, reason string) *FleetError {
	return NewWithDetails(ErrConfigValidation, "Configuration validation failed",
		fmt.Sprintf("Field: %s, Reason: %s", field, reason))
}

// Instance Errors
func MissingPrerequisite(path string) *FleetError {
	return NewWithDetails(ErrMissingPrerequisite, "Required file is missing", fmt.Sprintf("Path: %s", path))
}

func DuplicateInstance(instance string) *FleetError {
	return NewWithDetails(ErrDuplicateInstance, "Instance is already running", fmt.Sprintf("Instance: %s", instance))
}

func AlreadyInitialized(path string) *FleetError {
	return NewWithDetails(ErrAlreadyInitialized, "Instance configuration already exists", fmt.Sprintf("Path: %s", path))
}

func PartialMaterialization(instance, step string, cause error) *FleetError {
	return WrapWithDetails(ErrPartialMaterialization, "Instance configuration was only partially written",
		fmt.Sprintf("Instance: %s, Step: %s", instance, step), cause)
}

func ParseFailure(source, line string) *FleetError {
	return NewWithDetails(ErrParseFailure, "Unexpected output from "+source, fmt.Sprintf("Line: %q", line))
}

func SystemUnavailable(reason string, cause error) *FleetError {
	return WrapWithDetails(ErrSystemUnavailable, "Init system is unavailable", reason, cause)
}

func InvalidInput(reason string) *FleetError {
	return NewWithDetails(ErrInvalidInput, "Invalid input", reason)
}

func NotFound(resource, id string) *FleetError {
	return NewWithDetails(ErrNotFound, "Resource not found", fmt.Sprintf("%s: %s", resource, id))
}

// Database Errors
func DatabaseQuery(operation string, cause error) *FleetError {
	return WrapWithDetails(ErrDatabaseQuery, "Database query failed", fmt.Sprintf("Operation: %s", operation), cause)
}

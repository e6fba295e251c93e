/*
Package schema validates the two data shapes that leave the sandbox.

# Overview

Card scripts return loosely typed values: whatever the script engine exports
(maps, slices, strings, numbers) or whatever a remote worker decoded from JSON.
Nothing of that reaches host code directly. The validators in this package are
the single choke point that turns untrusted values into the closed variant types
of internal/shared/types:

  - ValidateUINode: rendered UI tree -> types.UINode
  - ValidateIntents: handler output -> []types.RuntimeIntent

Unknown node kinds, unknown intent scopes, missing required fields, non-data
values (functions, symbols) and oversized trees are rejected with a
SCHEMA_ERROR whose message carries a JSON-path style location.

# Usage Example

	node, err := schema.ValidateUINode(exported)
	if err != nil {
		return nil, err // rterr.CodeSchema
	}
*/
package schema

package tablerpc

// lockedMethods are rejected on a locked Manager, on tables and views alike.
var lockedMethods = map[string]bool{
	MethodUpdate:  true,
	MethodRemove:  true,
	MethodReplace: true,
	MethodClear:   true,
}

// isBlocked reports whether msg is rejected by the access lock. Table
// creation, the mutating methods and table delete are blocked; view delete
// is not.
func isBlocked(locked bool, msg *Message) bool {
	if !locked {
		return false
	}
	if msg.Cmd == CmdTable {
		return true
	}
	if msg.Cmd == CmdTableMethod && msg.Method == MethodDelete {
		return true
	}
	return lockedMethods[msg.Method]
}

// accessDenied builds the error for a blocked message.
func accessDenied(msg *Message) *RpcError {
	return newError(TypeAccessDenied, "`%s` failed - access denied", msg.Label())
}

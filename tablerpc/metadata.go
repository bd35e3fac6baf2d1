package tablerpc

// Well-known field names in request and response messages.
const (
	FieldID             = "id"
	FieldCmd            = "cmd"
	FieldName           = "name"
	FieldTableName      = "table_name"
	FieldViewName       = "view_name"
	FieldMethod         = "method"
	FieldArgs           = "args"
	FieldConfig         = "config"
	FieldOptions        = "options"
	FieldSubscribe      = "subscribe"
	FieldCallbackID     = "callback_id"
	FieldData           = "data"
	FieldError          = "error"
	FieldIsTransferable = "is_transferable"
	FieldPortID         = "port_id"

	// HeartbeatMarker is the keep-alive text frame sent by clients.
	HeartbeatMarker = "heartbeat"
)

// Commands accepted in the cmd field.
const (
	CmdInit        = "init"
	CmdTable       = "table"
	CmdView        = "view"
	CmdTableMethod = "table_method"
	CmdViewMethod  = "view_method"
)

// Method names with dedicated argument handling.
const (
	MethodSchema                = "schema"
	MethodComputedSchema        = "computed_schema"
	MethodComputationInputTypes = "get_computation_input_types"
	MethodUpdate                = "update"
	MethodRemove                = "remove"
	MethodReplace               = "replace"
	MethodClear                 = "clear"
	MethodDelete                = "delete"
	MethodOnUpdate              = "on_update"
	MethodToCSV                 = "to_csv"
)

// Option keys set by the dispatcher.
const (
	// OptionAsString asks schema methods for type names.
	OptionAsString = "as_string"
	// OptionMode selects the on_update notification mode.
	OptionMode = "mode"

	// DefaultUpdateMode is used when on_update names no mode.
	DefaultUpdateMode = "none"
)

const (
	exportPrefix    = "to_"
	subscribePrefix = "on"
)

package extract

import "github.com/efebarandurmaz/whetstone/internal/lang"

// Capture names used by every query. Each pattern captures the declaration
// node under its kind and the declared identifier as @name.
const (
	captureName      = "name"
	captureFunction  = "function"
	captureClass     = "class"
	captureInterface = "interface"
	captureType      = "type"
)

var captureKinds = map[string]UnitType{
	captureFunction:  Function,
	captureClass:     Class,
	captureInterface: Interface,
	captureType:      Type,
}

// queries holds the grammar query for each query-supported language. Adding a
// language means adding an entry here and its grammar in the tree-sitter
// binding.
var queries = map[lang.Language]string{
	lang.Python: `
(function_definition name: (identifier) @name) @function
(class_definition name: (identifier) @name) @class
`,
	lang.JavaScript: `
(function_declaration name: (identifier) @name) @function
(method_definition name: (property_identifier) @name) @function
(class_declaration name: (identifier) @name) @class
`,
	lang.TypeScript: tsQuery,
	lang.TSX:        tsQuery,
	lang.Java: `
(method_declaration name: (identifier) @name) @function
(class_declaration name: (identifier) @name) @class
(interface_declaration name: (identifier) @name) @interface
(enum_declaration name: (identifier) @name) @type
`,
	lang.Cpp: `
(function_definition declarator: (function_declarator declarator: (identifier) @name)) @function
(class_specifier name: (type_identifier) @name) @class
(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @type
`,
}

const tsQuery = `
(function_declaration name: (identifier) @name) @function
(method_definition name: (property_identifier) @name) @function
(class_declaration name: (type_identifier) @name) @class
(interface_declaration name: (type_identifier) @name) @interface
(type_alias_declaration name: (type_identifier) @name) @type
`

// QueryLanguages returns the languages with a built-in grammar query.
func QueryLanguages() []lang.Language {
	out := make([]lang.Language, 0, len(queries))
	for l := range queries {
		out = append(out, l)
	}
	return out
}

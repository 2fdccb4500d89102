package admission

var Validate = validate

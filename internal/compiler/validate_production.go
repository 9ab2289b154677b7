//go:build production

package compiler

const validateByDefault = false

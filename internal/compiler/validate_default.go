//go:build !production

package compiler

const validateByDefault = true

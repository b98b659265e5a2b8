//go:build !unix

package fsx

// 非 unix 平台无法可靠识别跨盘错误，Move 只做普通 rename。
func isEXDEV(err error) bool { return false }

package syscalltable

import (
	"strings"
	"testing"
)

func TestLoad_ParsesFlexibleWidthRecords(t *testing.T) {
	csv := "3,close,unsigned int fd,,,,,\n60,exit,int error_code\n"
	tbl, err := Load(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sys, ok := tbl[60]
	if !ok {
		t.Fatal("expected syscall 60 to be present")
	}
	if sys.Name != "exit" {
		t.Fatalf("got name %q, want \"exit\"", sys.Name)
	}
	if sys.Rdi == nil || sys.Rdi.FieldName != "error_code" {
		t.Fatalf("got rdi %+v, want field name error_code", sys.Rdi)
	}
	if sys.Rsi != nil {
		t.Fatalf("expected rsi to be absent (unused register), got %+v", sys.Rsi)
	}
}

func TestLoad_DuplicateSyscallNumberIsAnError(t *testing.T) {
	csv := "60,exit,int error_code,,,,,\n60,exit,int error_code,,,,,\n"
	_, err := Load(strings.NewReader(csv))
	if err == nil {
		t.Fatal("expected an error on duplicate syscall number")
	}
}

func TestParseEntry_PlainStringPointer(t *testing.T) {
	e := parseEntry("const char *filename")
	if e == nil {
		t.Fatal("expected a non-nil entry")
	}
	if !e.IsString {
		t.Error("expected IsString true for a char * parameter")
	}
	if !e.IsPointer {
		t.Error("expected IsPointer true")
	}
	if e.IsArray {
		t.Error("expected IsArray false")
	}
	if e.FieldName != "filename" {
		t.Fatalf("got field name %q, want \"filename\"", e.FieldName)
	}
}

func TestParseEntry_NonPointerValue(t *testing.T) {
	e := parseEntry("int error_code")
	if e == nil {
		t.Fatal("expected a non-nil entry")
	}
	if e.IsString || e.IsPointer || e.IsArray {
		t.Fatalf("expected a plain value parameter, got %+v", e)
	}
}

func TestParseEntry_CharBuffer(t *testing.T) {
	e := parseEntry("char *buf")
	if !e.IsString || !e.IsPointer || e.IsArray {
		t.Fatalf("expected string pointer, non-array, got %+v", e)
	}
}

func TestParseEntry_ArrayOfPointers(t *testing.T) {
	e := parseEntry("const char *const *argv[]")
	if e == nil {
		t.Fatal("expected a non-nil entry")
	}
	if !e.IsArray {
		t.Error("expected IsArray true for a trailing [] parameter")
	}
	if !e.IsPointer {
		t.Error("expected IsPointer true (the name is preceded by a star)")
	}
	if e.FieldName != "argv" {
		t.Fatalf("got field name %q, want \"argv\"", e.FieldName)
	}
}

func TestParseEntry_EmptyDeclarationIsUnusedRegister(t *testing.T) {
	if e := parseEntry(""); e != nil {
		t.Fatalf("expected nil for an empty cell, got %+v", e)
	}
}

func TestLoad_UsesEmbeddedDefaultWithoutPanicking(t *testing.T) {
	if len(Default) == 0 {
		t.Fatal("expected the embedded default table to be non-empty")
	}
	exit, ok := Default[60]
	if !ok || exit.Name != "exit" {
		t.Fatalf("expected syscall 60 to be exit in the default table, got %+v", exit)
	}
}

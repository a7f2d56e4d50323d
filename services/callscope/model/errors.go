// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import "errors"

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrDuplicateClass is returned when a class name is added twice.
	ErrDuplicateClass = errors.New("model: duplicate class")

	// ErrDuplicateMethod is returned when a class declares the same signature twice.
	ErrDuplicateMethod = errors.New("model: duplicate method")

	// ErrInvalidProgram is returned when a program violates a structural rule.
	ErrInvalidProgram = errors.New("model: invalid program")

	// ErrInvalidSignature is returned when a signature or method ID cannot be parsed.
	ErrInvalidSignature = errors.New("model: invalid signature")
)

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu provides a GPU backend on a gogpu/wgpu HAL device.
//
// The backend either opens its own device on the pure Go software HAL, or
// shares the device of a host application through gpucontext:
//
//	gpu, err := wgpu.NewSoftware()          // standalone, CPU-backed HAL
//	gpu, err := wgpu.NewFromProvider(app)   // shared device from the host
//
// Textures are real HAL textures. Uploads go through Queue.WriteTexture and
// readback through a mappable buffer filled by CopyTextureToBuffer. Program
// kernels run on the host between a readback and an upload; WGSL sources are
// compiled with naga for validation.
//
// Only RGBA8Unorm textures are supported; deeper images fail with
// backend.ErrFormatUnsupported.
//
// Importing the package registers the backend under the name "wgpu".
package wgpu

// Copyright 2014 The ZS Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package conc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerialDefersUntilResult(t *testing.T) {
	ran := false
	s := Serial{}
	f := s.Submit(func() (any, error) {
		ran = true
		return 42, nil
	})
	require.False(t, ran, "Serial must not run the function until Result is called")
	v, err := f.Result()
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 42, v)
}

func TestThreadPoolRunsSubmittedWork(t *testing.T) {
	p := NewThreadPool(4)
	defer p.Shutdown()

	futures := make([]Future, 0, 16)
	for i := 0; i < 16; i++ {
		i := i
		futures = append(futures, p.Submit(func() (any, error) {
			return i * i, nil
		}))
	}
	for i, f := range futures {
		v, err := f.Result()
		require.NoError(t, err)
		require.Equal(t, i*i, v)
	}
}

func TestThreadPoolPropagatesError(t *testing.T) {
	p := NewThreadPool(2)
	defer p.Shutdown()

	f := p.Submit(func() (any, error) { return nil, cancelError{} })
	_, err := f.Result()
	require.Error(t, err)
}

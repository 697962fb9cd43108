// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pcm is a H264 Constrained Baseline encoder that codes every
// macroblock as I_PCM. The output is lossless and large, the encoder
// has no dependencies and is deterministic.
package pcm

import (
	"errors"
	"fmt"

	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/h264"
)

// DefaultGOP is the number of frames between IDR frames.
const DefaultGOP = 30

const (
	profileBaseline = 66

	// constraint_set0_flag and constraint_set1_flag.
	constraintFlags = 0xc0

	// log2_max_frame_num_minus4 is 0.
	frameNumBits = 4
	maxFrameNum  = 1 << frameNumBits

	mbTypeIPCM = 25
	sliceTypeI = 7 // All slices in the picture are I slices.

	blackLuma   = 16
	blackChroma = 128
)

// NALU header bytes with nal_ref_idc 3.
const (
	headerSPS    = 0x60 | byte(h264.NALUTypeSPS)
	headerPPS    = 0x60 | byte(h264.NALUTypePPS)
	headerIDR    = 0x60 | byte(h264.NALUTypeIDR)
	headerNonIDR = 0x60 | byte(h264.NALUTypeNonIDR)
	mbBytes      = 256 + 2*64
)

// Errors.
var (
	ErrClosed     = errors.New("encoder closed")
	ErrPictureDim = errors.New("picture dimensions do not match encoder")
)

// Encoder is a I_PCM H264 encoder.
type Encoder struct {
	width  int
	height int
	mbW    int
	mbH    int
	gop    int

	sps []byte
	pps []byte

	frameIndex int
	frameNum   uint32
	idrPicID   uint32
	closed     bool
}

// New returns a encoder with the default GOP.
// It implements encoder.Factory.
func New(conf encoder.Config) (encoder.Encoder, error) {
	return Factory(DefaultGOP)(conf)
}

// Factory returns a encoder.Factory with a custom GOP.
func Factory(gop int) encoder.Factory {
	return func(conf encoder.Config) (encoder.Encoder, error) {
		e, err := NewWithGOP(conf, gop)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// NewWithGOP returns a encoder that emits a IDR frame every gop frames.
func NewWithGOP(conf encoder.Config, gop int) (*Encoder, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if gop <= 0 {
		gop = DefaultGOP
	}

	e := &Encoder{
		width:  conf.Width,
		height: conf.Height,
		mbW:    (conf.Width + 15) / 16,
		mbH:    (conf.Height + 15) / 16,
		gop:    gop,
	}

	var err error
	if e.sps, err = e.generateSPS(); err != nil {
		return nil, fmt.Errorf("generate SPS: %w", err)
	}
	if e.pps, err = generatePPS(); err != nil {
		return nil, fmt.Errorf("generate PPS: %w", err)
	}
	return e, nil
}

// SPS returns the sequence parameter set NALU.
func (e *Encoder) SPS() []byte { return e.sps }

// PPS returns the picture parameter set NALU.
func (e *Encoder) PPS() []byte { return e.pps }

// levelIdc returns the lowest level whose MaxFS fits the frame.
// ISO/IEC 14496-10 Table A-1
func levelIdc(mbs int) uint8 {
	levels := []struct {
		maxFS int
		level uint8
	}{
		{99, 10},
		{396, 20},
		{792, 21},
		{1620, 30},
		{3600, 31},
		{5120, 32},
		{8192, 40},
		{8704, 42},
		{22080, 50},
		{36864, 51},
	}
	for _, l := range levels {
		if mbs <= l.maxFS {
			return l.level
		}
	}
	return 52
}

func (e *Encoder) generateSPS() ([]byte, error) {
	w := newRBSPWriter(32)
	w.u(profileBaseline, 8)
	w.u(constraintFlags, 8)
	w.u(uint64(levelIdc(e.mbW*e.mbH)), 8)
	w.ue(0)                 // seq_parameter_set_id
	w.ue(frameNumBits - 4)  // log2_max_frame_num_minus4
	w.ue(2)                 // pic_order_cnt_type
	w.ue(1)                 // max_num_ref_frames
	w.flag(false)           // gaps_in_frame_num_value_allowed_flag
	w.ue(uint32(e.mbW - 1)) // pic_width_in_mbs_minus1
	w.ue(uint32(e.mbH - 1)) // pic_height_in_map_units_minus1
	w.flag(true)            // frame_mbs_only_flag
	w.flag(true)            // direct_8x8_inference_flag

	// Crop units are 2 luma samples in both directions for 4:2:0 frames.
	cropRight := uint32(e.mbW*16-e.width) / 2
	cropBottom := uint32(e.mbH*16-e.height) / 2
	cropping := cropRight != 0 || cropBottom != 0
	w.flag(cropping)
	if cropping {
		w.ue(0)
		w.ue(cropRight)
		w.ue(0)
		w.ue(cropBottom)
	}

	w.flag(false) // vui_parameters_present_flag
	return w.nalu(headerSPS)
}

func generatePPS() ([]byte, error) {
	w := newRBSPWriter(8)
	w.ue(0)       // pic_parameter_set_id
	w.ue(0)       // seq_parameter_set_id
	w.flag(false) // entropy_coding_mode_flag
	w.flag(false) // bottom_field_pic_order_in_frame_present_flag
	w.ue(0)       // num_slice_groups_minus1
	w.ue(0)       // num_ref_idx_l0_default_active_minus1
	w.ue(0)       // num_ref_idx_l1_default_active_minus1
	w.flag(false) // weighted_pred_flag
	w.u(0, 2)     // weighted_bipred_idc
	w.se(0)       // pic_init_qp_minus26
	w.se(0)       // pic_init_qs_minus26
	w.se(0)       // chroma_qp_index_offset
	w.flag(false) // deblocking_filter_control_present_flag
	w.flag(false) // constrained_intra_pred_flag
	w.flag(false) // redundant_pic_cnt_present_flag
	return w.nalu(headerPPS)
}

// Encode implements encoder.Encoder. The encoder has no latency,
// every call returns exactly one frame.
func (e *Encoder) Encode(pic *encoder.Picture) ([]encoder.Bitstream, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if pic.Width != e.width || pic.Height != e.height {
		return nil, fmt.Errorf("%w: %dx%d, expected %dx%d",
			ErrPictureDim, pic.Width, pic.Height, e.width, e.height)
	}
	bs, err := e.encode(pic)
	if err != nil {
		return nil, err
	}
	return []encoder.Bitstream{bs}, nil
}

// encode encodes one frame. Every GOP starts with
// a IDR frame that carries the SPS and PPS.
func (e *Encoder) encode(pic *encoder.Picture) (encoder.Bitstream, error) {
	idr := e.frameIndex%e.gop == 0
	if idr {
		e.frameNum = 0
	}

	slice, err := e.encodeSlice(pic, idr)
	if err != nil {
		return encoder.Bitstream{}, err
	}

	e.frameIndex++
	e.frameNum = (e.frameNum + 1) % maxFrameNum

	if !idr {
		return encoder.Bitstream{
			Layers:    [][]byte{h264.AnnexBMarshal([][]byte{slice})},
			FrameType: encoder.FrameTypeI,
		}, nil
	}

	e.idrPicID ^= 1
	return encoder.Bitstream{
		Layers:    [][]byte{h264.AnnexBMarshal([][]byte{e.sps, e.pps, slice})},
		FrameType: encoder.FrameTypeIDR,
	}, nil
}

func (e *Encoder) encodeSlice(pic *encoder.Picture, idr bool) ([]byte, error) {
	w := newRBSPWriter(e.mbW*e.mbH*(mbBytes+2) + 16)

	// slice_header()
	w.ue(0)          // first_mb_in_slice
	w.ue(sliceTypeI) // slice_type
	w.ue(0)          // pic_parameter_set_id
	w.u(uint64(e.frameNum), frameNumBits)
	if idr {
		w.ue(e.idrPicID)
	}
	// dec_ref_pic_marking()
	if idr {
		w.flag(false) // no_output_of_prior_pics_flag
		w.flag(false) // long_term_reference_flag
	} else {
		w.flag(false) // adaptive_ref_pic_marking_mode_flag
	}
	w.se(0) // slice_qp_delta

	// slice_data()
	var mb [mbBytes]byte
	for mbY := 0; mbY < e.mbH; mbY++ {
		for mbX := 0; mbX < e.mbW; mbX++ {
			w.ue(mbTypeIPCM)
			w.align() // pcm_alignment_zero_bit
			copyMacroblock(&mb, pic, mbX, mbY)
			w.bytes(mb[:])
		}
	}

	header := headerNonIDR
	if idr {
		header = headerIDR
	}
	return w.nalu(header)
}

// copyMacroblock copies the samples of one macroblock,
// samples outside the picture are black.
func copyMacroblock(mb *[mbBytes]byte, pic *encoder.Picture, mbX, mbY int) {
	copyBlock(mb[:256], pic.Y, pic.Width, pic.Height, mbX*16, mbY*16, 16, blackLuma)

	cw, ch := pic.Width/2, pic.Height/2
	copyBlock(mb[256:320], pic.Cb, cw, ch, mbX*8, mbY*8, 8, blackChroma)
	copyBlock(mb[320:384], pic.Cr, cw, ch, mbX*8, mbY*8, 8, blackChroma)
}

func copyBlock(dst, plane []byte, width, height, x0, y0, size int, pad byte) {
	for y := 0; y < size; y++ {
		row := dst[y*size : (y+1)*size]
		py := y0 + y
		if py >= height {
			fill(row, pad)
			continue
		}
		n := 0
		if x0 < width {
			end := x0 + size
			if end > width {
				end = width
			}
			n = copy(row, plane[py*width+x0:py*width+end])
		}
		fill(row[n:], pad)
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Flush implements encoder.Encoder.
func (e *Encoder) Flush() ([]encoder.Bitstream, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return nil, nil
}

// Close implements encoder.Encoder.
func (e *Encoder) Close() error {
	e.closed = true
	return nil
}

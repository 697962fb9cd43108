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

package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

func readGolombUnsigned(br *bitio.Reader) (uint32, error) {
	leadingZeroBits := uint8(0)

	for {
		b, err := br.ReadBool()
		if err != nil {
			return 0, err
		}
		if b {
			break
		}

		leadingZeroBits++
		if leadingZeroBits > 31 {
			return 0, ErrSPSGolombTooLong
		}
	}

	codeNum := uint64(0)
	if leadingZeroBits != 0 {
		v, err := br.ReadBits(leadingZeroBits)
		if err != nil {
			return 0, err
		}
		codeNum = v
	}

	return uint32((uint64(1) << leadingZeroBits) - 1 + codeNum), nil
}

func readGolombSigned(br *bitio.Reader) (int32, error) {
	v, err := readGolombUnsigned(br)
	if err != nil {
		return 0, err
	}
	vi := int64(v)

	if (vi & 0x01) != 0 {
		return int32((vi + 1) / 2), nil
	}
	return int32(-vi / 2), nil
}

func skipScalingList(br *bitio.Reader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)

	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale, err := readGolombSigned(br)
			if err != nil {
				return err
			}
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// SpsFramecropping is the frame cropping part of a SPS.
type SpsFramecropping struct {
	LeftOffset   uint32
	RightOffset  uint32
	TopOffset    uint32
	BottomOffset uint32
}

func (c *SpsFramecropping) unmarshal(br *bitio.Reader) error {
	for _, field := range []*uint32{
		&c.LeftOffset, &c.RightOffset, &c.TopOffset, &c.BottomOffset,
	} {
		v, err := readGolombUnsigned(br)
		if err != nil {
			return err
		}
		*field = v
	}
	return nil
}

// SPS is a H264 sequence parameter set.
// Only the fields before the VUI are decoded.
type SPS struct {
	ProfileIdc      uint8
	ConstraintFlags uint8
	LevelIdc        uint8
	ID              uint32

	ChromaFormatIdc         uint32
	SeparateColourPlaneFlag bool
	BitDepthLumaMinus8      uint32
	BitDepthChromaMinus8    uint32

	Log2MaxFrameNumMinus4       uint32
	PicOrderCntType             uint32
	Log2MaxPicOrderCntLsbMinus4 uint32

	MaxNumRefFrames                uint32
	GapsInFrameNumValueAllowedFlag bool
	PicWidthInMbsMinus1            uint32
	PicHeightInMapUnitsMinus1      uint32
	FrameMbsOnlyFlag               bool
	MbAdaptiveFrameFieldFlag       bool
	Direct8x8InferenceFlag         bool

	// frameCroppingFlag == true
	FrameCropping *SpsFramecropping

	VUIParametersPresentFlag bool
}

// SPS errors.
var (
	ErrSPSBufferTooShort    = errors.New("buffer too short")
	ErrSPSWrongForbiddenBit = errors.New("wrong forbidden bit")
	ErrSPSWrongType         = errors.New("not a SPS")
	ErrSPSGolombTooLong     = errors.New("exp-golomb code too long")
)

// Unmarshal decodes a SPS from bytes.
func (s *SPS) Unmarshal(buf []byte) error { //nolint:funlen
	// ref: ISO/IEC 14496-10:2020

	buf = UnescapeRBSP(buf)

	if len(buf) < 4 {
		return ErrSPSBufferTooShort
	}

	if buf[0]>>7 != 0 {
		return ErrSPSWrongForbiddenBit
	}
	if TypeOf(buf[0]) != NALUTypeSPS {
		return ErrSPSWrongType
	}

	s.ProfileIdc = buf[1]
	s.ConstraintFlags = buf[2]
	s.LevelIdc = buf[3]

	br := bitio.NewReader(bytes.NewReader(buf[4:]))

	var err error
	s.ID, err = readGolombUnsigned(br)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}

	if err := s.unmarshalProfileIdc(br); err != nil {
		return fmt.Errorf("profile: %w", err)
	}

	s.Log2MaxFrameNumMinus4, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.PicOrderCntType, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	if err := s.unmarshalPicOrderCnt(br); err != nil {
		return fmt.Errorf("pic order count: %w", err)
	}

	s.MaxNumRefFrames, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.GapsInFrameNumValueAllowedFlag, err = br.ReadBool()
	if err != nil {
		return err
	}

	s.PicWidthInMbsMinus1, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.PicHeightInMapUnitsMinus1, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.FrameMbsOnlyFlag, err = br.ReadBool()
	if err != nil {
		return err
	}

	s.MbAdaptiveFrameFieldFlag = false
	if !s.FrameMbsOnlyFlag {
		s.MbAdaptiveFrameFieldFlag, err = br.ReadBool()
		if err != nil {
			return err
		}
	}

	s.Direct8x8InferenceFlag, err = br.ReadBool()
	if err != nil {
		return err
	}

	frameCroppingFlag, err := br.ReadBool()
	if err != nil {
		return err
	}

	s.FrameCropping = nil
	if frameCroppingFlag {
		s.FrameCropping = &SpsFramecropping{}
		if err := s.FrameCropping.unmarshal(br); err != nil {
			return fmt.Errorf("frame cropping: %w", err)
		}
	}

	s.VUIParametersPresentFlag, err = br.ReadBool()
	if err != nil {
		return err
	}

	return nil
}

func (s *SPS) unmarshalProfileIdc(br *bitio.Reader) error {
	s.ChromaFormatIdc = 1
	s.SeparateColourPlaneFlag = false
	s.BitDepthLumaMinus8 = 0
	s.BitDepthChromaMinus8 = 0

	switch s.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
	default:
		return nil
	}

	var err error
	s.ChromaFormatIdc, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	if s.ChromaFormatIdc == 3 {
		s.SeparateColourPlaneFlag, err = br.ReadBool()
		if err != nil {
			return err
		}
	}

	s.BitDepthLumaMinus8, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.BitDepthChromaMinus8, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	// qpprime_y_zero_transform_bypass_flag.
	if _, err := br.ReadBool(); err != nil {
		return err
	}

	seqScalingMatrixPresentFlag, err := br.ReadBool()
	if err != nil {
		return err
	}
	if !seqScalingMatrixPresentFlag {
		return nil
	}

	lim := 8
	if s.ChromaFormatIdc == 3 {
		lim = 12
	}
	for i := 0; i < lim; i++ {
		present, err := br.ReadBool()
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		size := 64
		if i < 6 {
			size = 16
		}
		if err := skipScalingList(br, size); err != nil {
			return err
		}
	}
	return nil
}

func (s *SPS) unmarshalPicOrderCnt(br *bitio.Reader) error {
	s.Log2MaxPicOrderCntLsbMinus4 = 0

	var err error
	switch s.PicOrderCntType {
	case 0:
		s.Log2MaxPicOrderCntLsbMinus4, err = readGolombUnsigned(br)
		return err

	case 1:
		// delta_pic_order_always_zero_flag.
		if _, err := br.ReadBool(); err != nil {
			return err
		}
		// offset_for_non_ref_pic, offset_for_top_to_bottom_field.
		for i := 0; i < 2; i++ {
			if _, err := readGolombSigned(br); err != nil {
				return err
			}
		}
		numRefFramesInPicOrderCntCycle, err := readGolombUnsigned(br)
		if err != nil {
			return err
		}
		for i := uint32(0); i < numRefFramesInPicOrderCntCycle; i++ {
			if _, err := readGolombSigned(br); err != nil {
				return err
			}
		}
	}
	return nil
}

// cropUnits returns CropUnitX and CropUnitY.
func (s SPS) cropUnits() (uint32, uint32) {
	frameMbsOnly := uint32(0)
	if s.FrameMbsOnlyFlag {
		frameMbsOnly = 1
	}

	var subWidthC, subHeightC uint32
	switch {
	case s.ChromaFormatIdc == 0 || s.SeparateColourPlaneFlag:
		return 1, 2 - frameMbsOnly
	case s.ChromaFormatIdc == 1:
		subWidthC, subHeightC = 2, 2
	case s.ChromaFormatIdc == 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 1, 1
	}
	return subWidthC, subHeightC * (2 - frameMbsOnly)
}

// Width returns the video width.
func (s SPS) Width() int {
	width := (s.PicWidthInMbsMinus1 + 1) * 16
	if s.FrameCropping != nil {
		cropX, _ := s.cropUnits()
		width -= (s.FrameCropping.LeftOffset + s.FrameCropping.RightOffset) * cropX
	}
	return int(width)
}

// Height returns the video height.
func (s SPS) Height() int {
	frameMbsOnly := uint32(0)
	if s.FrameMbsOnlyFlag {
		frameMbsOnly = 1
	}

	height := (2 - frameMbsOnly) * (s.PicHeightInMapUnitsMinus1 + 1) * 16
	if s.FrameCropping != nil {
		_, cropY := s.cropUnits()
		height -= (s.FrameCropping.TopOffset + s.FrameCropping.BottomOffset) * cropY
	}
	return int(height)
}

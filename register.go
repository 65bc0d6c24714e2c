package gimage

// The software raster backend is always available. GPU backends register
// themselves when imported:
//
//	import _ "github.com/gogpu/gimage/backend/softgpu"
//	import _ "github.com/gogpu/gimage/backend/wgpu"
import _ "github.com/gogpu/gimage/backend/software"

package visibility

// Viewer хранит состояние одного зрителя между кадрами:
// предыдущий RadiusState и последний VisibleSet.
// Не предназначен для параллельного использования.
type Viewer struct {
	resolver *Resolver
	frame    *Frame
}

// NewViewer создаёт зрителя поверх резолвера
func NewViewer(resolver *Resolver) *Viewer {
	return &Viewer{resolver: resolver}
}

// State возвращает последнее состояние радиуса (nil до первого кадра)
func (v *Viewer) State() *RadiusState {
	if v.frame == nil {
		return nil
	}
	return v.frame.State
}

// Update обрабатывает очередной снимок камеры
func (v *Viewer) Update(index *TileIndex, cam *CameraState) (Result, error) {
	var prev *RadiusState
	if v.frame != nil {
		prev = v.frame.State
	}

	res, err := v.resolver.Resolve(cam, index, prev, v.frame)
	if err != nil {
		return Result{}, err
	}

	v.frame = &Frame{State: res.State, Version: index.Version(), Tiles: res.Tiles}
	return res, nil
}

// Reset забывает предыдущее состояние, следующий кадр будет пересчитан
func (v *Viewer) Reset() {
	v.frame = nil
}

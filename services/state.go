package services

import (
	"sort"
	"sync"

	"derby-service/models"
)

// AppState 进程级投影: 比赛视图、hint→party缓存、待揭示种子
// 三张map分别只由orchestrator刷新、identity resolver、fairness模块写入
type AppState struct {
	mu      sync.RWMutex
	races   map[string]*models.RaceView
	parties map[string]string
	seeds   map[string]string
}

// NewAppState 创建空投影
func NewAppState() *AppState {
	return &AppState{
		races:   make(map[string]*models.RaceView),
		parties: make(map[string]string),
		seeds:   make(map[string]string),
	}
}

// SetRace 整体替换某场比赛的视图
func (s *AppState) SetRace(view *models.RaceView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races[view.RaceID] = view
}

// Race 读取某场比赛的最近视图，未跟踪时返回nil
func (s *AppState) Race(raceID string) *models.RaceView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.races[raceID]
	if !ok {
		return nil
	}
	copied := *view
	return &copied
}

// Races 当前所有被跟踪比赛的快照，按raceId排序
func (s *AppState) Races() []*models.RaceView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]*models.RaceView, 0, len(s.races))
	for _, view := range s.races {
		copied := *view
		views = append(views, &copied)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].RaceID < views[j].RaceID
	})
	return views
}

// SetParty 缓存hint到party的映射，进程生命周期内不失效
func (s *AppState) SetParty(hint, party string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties[hint] = party
}

// Party 读取已解析的party
func (s *AppState) Party(hint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	party, ok := s.parties[hint]
	return party, ok
}

// PutSeed 保存比赛种子，持有到揭示为止
func (s *AppState) PutSeed(raceID, seed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds[raceID] = seed
}

// TakeSeed 取出并移除种子(揭示后不再需要本地持有)
func (s *AppState) TakeSeed(raceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, ok := s.seeds[raceID]
	if ok {
		delete(s.seeds, raceID)
	}
	return seed, ok
}
